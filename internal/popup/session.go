package popup

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"near-onramp/pkg/protocol"
)

// Session is one popup lifetime's worth of flow state. It is persisted on
// launch so that a reloaded popup, which only gets the session id back, can
// recover the opener origin and flow parameters.
type Session struct {
	ID        string            `json:"id"`
	Chain     string            `json:"chain"`
	Asset     string            `json:"asset"`
	AppFees   []protocol.AppFee `json:"appFees,omitempty"`
	SDKOrigin string            `json:"sdkOrigin"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ParseLaunchQuery builds a session from the popup launch URL query. The
// session id, chain and asset are mandatory. Malformed appFees are logged
// and dropped rather than failing the launch. A missing opener origin is
// fatal in production and falls back to the wildcard in development.
func ParseLaunchQuery(query url.Values, production bool) (*Session, error) {
	sess := &Session{
		ID:        query.Get("sessionId"),
		Chain:     query.Get("chain"),
		Asset:     query.Get("asset"),
		SDKOrigin: query.Get("sdkOrigin"),
		CreatedAt: time.Now().UTC(),
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("sessionId query parameter is required")
	}
	if sess.Chain == "" || sess.Asset == "" {
		return nil, fmt.Errorf("chain and asset query parameters are required")
	}

	if raw := query.Get("appFees"); raw != "" {
		var fees []protocol.AppFee
		if err := json.Unmarshal([]byte(raw), &fees); err != nil {
			log.WithError(err).WithField("sessionId", sess.ID).
				Warn("dropping malformed appFees parameter")
		} else {
			sess.AppFees = fees
		}
	}

	if sess.SDKOrigin == "" {
		if production {
			return nil, protocol.ErrMissingSDKOrigin
		}
		log.WithField("sessionId", sess.ID).
			Warn("no opener origin on the launch URL, falling back to the wildcard")
		sess.SDKOrigin = protocol.WildcardOrigin
	}

	return sess, nil
}
