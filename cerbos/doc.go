// Package cerbos is a small client for the Cerbos policy decision point.
//
// It speaks the CheckResources and ServerInfo calls of the Cerbos API over
// either gRPC or HTTP. Policy evaluation happens entirely on the Cerbos
// server; the client only ships principals, resources and actions and reads
// back per-action effects.
//
//	client, err := cerbos.New(&cerbos.Config{Transport: cerbos.TransportGRPC, Host: "localhost"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	allowed, err := client.IsAllowed(ctx,
//	    cerbos.NewPrincipal("alice", "user"),
//	    cerbos.NewResource("post", "42"),
//	    "read",
//	)
//
// NewBreakerClient guards any Client with a circuit breaker and AdminClient
// pushes policies through the Admin API.
package cerbos
