// Package pagination provides a lazily evaluated record stream over a
// paginated, admission-controlled endpoint.
//
// A Stream requests one page at a time, strictly in order, and yields its
// records one by one. It keeps a private estimate of the server's leaky
// bucket, reconciled from the x-bucket-* headers of every response, and uses
// it to sleep before a request the server would likely reject. A 429 response
// puts the stream to sleep for the time the estimate needs to afford the page
// and then retries the same page; any other failure is terminal.
//
// Example usage:
//
//	c, _ := client.New(client.DefaultConfig("http://127.0.0.1:8080"))
//	s, _ := pagination.NewStream[Record](c, pagination.Config{Fields: []string{"name"}})
//	for rec, err := range s.All(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(rec.Name)
//	}
//
// Cancelling the context passed to Next abandons the in-flight request or
// sleep and ends the stream. A page the server already admitted stays charged
// on the server: the client has no way to give the points back.
package pagination
