/*
Package client is a Go controller for the ChromeLink broker.

	c, err := client.Dial(ctx, "ws://localhost:9000", client.Options{})
	tab, err := c.OpenTab(ctx, "https://example.com", true)
	title, err := c.GetText(ctx, "h1", client.TabID(tab.ID))

Commands may be issued concurrently; each carries a fresh requestId and the
response is routed back to its caller. Failures reported by the broker or the
extension surface as *types.CommandError.
*/
package client
