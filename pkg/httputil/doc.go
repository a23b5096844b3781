// Package httputil provides the JSON response, request parsing and common
// middleware helpers shared by the hub's HTTP handlers.
//
//	router.Use(httputil.RequestIDMiddleware, httputil.RecoveryMiddleware(logger))
//
//	var req createRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	httputil.WriteCreated(w, role)
package httputil
