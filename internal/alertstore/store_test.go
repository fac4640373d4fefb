package alertstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soccerops/alertcore/internal/sportdata"
)

// Query/Exec-backed methods need a live Postgres connection (the prepared
// statements are registered by internal/db against a real pgxpool.Conn) and
// are exercised by integration tests outside this package; channelsToText is
// the one pure transform worth covering here.
func TestChannelsToText(t *testing.T) {
	assert.Equal(t, []string{"SMS", "EMAIL"}, channelsToText([]sportdata.Channel{sportdata.ChannelSMS, sportdata.ChannelEmail}))
	assert.Equal(t, []string{}, channelsToText(nil))
}
