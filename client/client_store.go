package client

import "context"

// Store is a Source that can also persist clients, used for seeding and
// administration.
type Store interface {
	Source
	CreateClient(ctx context.Context, client *Client) error
}
