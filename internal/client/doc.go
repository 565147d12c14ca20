// Package client is an HTTP client for the parley-gateway API.
//
// Login stores the bearer token on the Client; every later call sends it.
// Conversations returns the snapshot a convsync.Synchronizer starts from.
//
//	c := client.New("http://127.0.0.1:8080")
//	if _, err := c.Login(ctx, email, password); err != nil {
//	    return err
//	}
//	list, err := c.Conversations(ctx)
//
// Responses with status >= 400 come back as *HTTPError.
package client
