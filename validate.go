package httpengine

import (
	"net/http"

	validator "gopkg.in/go-playground/validator.v8"
)

var defaultValidator = validator.New(&validator.Config{TagName: "validate"})

// CheckPath validates target, a struct the caller has already filled from
// rs.PathParams, against validator tags on its fields; rs itself is not
// read. On failure it returns a BAD_REQUEST SendError carrying the
// validator's field-level error tree, per SPEC_FULL §4.6.
func CheckPath(rs *RequestState, target interface{}, errorContext string) *SendError {
	return checkStruct(target, errorContext)
}

// CheckQuery is CheckPath's analogue for rs.QueryParams.
func CheckQuery(rs *RequestState, target interface{}, errorContext string) *SendError {
	return checkStruct(target, errorContext)
}

func checkStruct(target interface{}, errorContext string) *SendError {
	if err := defaultValidator.Struct(target); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return NewSendError(ReasonBadRequest, http.StatusBadRequest, err.Error())
		}
		tree := make(map[string]string, len(errs))
		for field, fe := range errs {
			tree[field] = fe.Tag
		}
		return NewSendError(ReasonValidationFailed, http.StatusBadRequest, map[string]interface{}{
			"context": errorContext,
			"fields":  tree,
		})
	}
	return nil
}

// TypedRoute is the Go rendering of the source's zodRoute: a compile-time
// typed route descriptor whose handler receives already-validated path
// params, query params and body. DecodePathParams/DecodeQueryParams/
// DecodeBody, when set, build those values (pointers to structs carrying
// validator tags) from the request; the handler RegisterTypedRoutes installs
// validates each one before invoking Inner and serialises Inner's return
// value with SendJSON at status 200. The return value itself is not
// validated.
type TypedRoute struct {
	Method         string
	BodyFormat     BodyFormat
	SecurityChecks []SecurityCheck

	DecodePathParams  func(pathParams map[string]string) (interface{}, error)
	DecodeQueryParams func(queryParams map[string][]string) (interface{}, error)
	DecodeBody        func(rs *RequestState) (interface{}, error)

	Inner func(rs *RequestState, pathParams, queryParams, body interface{}) (interface{}, *SendError)
}

// RegisterTypedRoutes installs route on every node reached by methodKeys
// (method name -> RouteNode), wiring CheckPath/CheckQuery/body-decode ahead
// of route.Inner and SendJSON after it, per SPEC_FULL §4.6's
// registerZodRoutes.
func RegisterTypedRoutes(parent *RouteNode, route TypedRoute, methodKeys map[string]*RouteNode) {
	for method, node := range methodKeys {
		m := method
		r := route
		node.Handle(m, r.BodyFormat, r.SecurityChecks, func(rs *RequestState) (StreamEnded, error) {
			var pathParams, queryParams, body interface{}
			var err error

			if r.DecodePathParams != nil {
				if pathParams, err = r.DecodePathParams(rs.PathParams); err != nil {
					return StreamEnded{}, NewSendError(ReasonBadRequest, http.StatusBadRequest, err.Error())
				}
				if se := checkStruct(pathParams, "path"); se != nil {
					return StreamEnded{}, se
				}
			}
			if r.DecodeQueryParams != nil {
				if queryParams, err = r.DecodeQueryParams(rs.QueryParams); err != nil {
					return StreamEnded{}, NewSendError(ReasonBadRequest, http.StatusBadRequest, err.Error())
				}
				if se := checkStruct(queryParams, "query"); se != nil {
					return StreamEnded{}, se
				}
			}
			if r.DecodeBody != nil {
				if body, err = r.DecodeBody(rs); err != nil {
					return StreamEnded{}, NewSendError(ReasonBadRequest, http.StatusBadRequest, err.Error())
				}
				if se := checkStruct(body, "body"); se != nil {
					return StreamEnded{}, se
				}
			}

			result, se := r.Inner(rs, pathParams, queryParams, body)
			if se != nil {
				return StreamEnded{}, se
			}
			return rs.SendJSON(http.StatusOK, result)
		})
	}
}
