// Package gincerbos authorizes gin requests with Cerbos.
//
// Register installs a middleware that attaches a request-scoped authorizer to
// every gin context. Handlers ask it whether the current user may perform an
// action on a resource:
//
//	r := gin.New()
//	r.Use(authenticate) // sets c.Set("user", ...)
//	if _, err := gincerbos.Register(r, &gincerbos.Config{Host: "cerbos"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	r.GET("/posts/:id", func(c *gin.Context) {
//	    allowed, err := gincerbos.IsAllowed(c, cerbos.NewResource("post", c.Param("id")), "read")
//	    if err != nil || !allowed {
//	        c.AbortWithStatus(http.StatusForbidden)
//	        return
//	    }
//	    ...
//	})
//
// Requests without a user are checked as the anonymous principal
// {id: "anonymous", roles: ["anonymous"]}. Users are turned into principals
// by DefaultPrincipal unless WithPrincipalFunc supplies a replacement.
//
// With Hook.Enabled, PreHandler rejects requests before they reach the
// handler, using a ResourceLoader to find the resource and action. The same
// check is available to gRPC servers through UnaryServerInterceptor and
// StreamServerInterceptor.
package gincerbos
