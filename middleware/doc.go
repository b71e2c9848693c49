// Package middleware guards HTTP handlers with goAccount access tokens.
//
// [Guard] validates the bearer token and stores the result in the request
// context. [RequireCapability] then checks a scope template resolved from
// the route's path parameters, for example
//
//	mux.Handle("GET /v1/users/{userId}/sessions",
//		middleware.Guard(engine)(middleware.RequireCapability(engine, "user-{userId}:read-session-*")(h)))
//
// All token and scope decisions are delegated to the Engine.
package middleware
