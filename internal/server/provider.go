package server

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// channelGrantProvider answers channel access questions from the
// channel_grants table. Grants are written by the chat-platform sync outside
// this service.
type channelGrantProvider struct {
	conn *pgxpool.Pool
}

func (p *channelGrantProvider) AccessibleChannels(ctx context.Context, orgID, principalID string) ([]string, error) {
	rows, err := p.conn.Query(ctx, `
		SELECT channel_ref FROM channel_grants
		WHERE org_id = $1 AND principal_id = $2`,
		orgID, principalID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		channels = append(channels, ref)
	}
	return channels, rows.Err()
}
