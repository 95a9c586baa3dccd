package push

import (
	"context"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Transport sends one encrypted payload to a subscription endpoint and
// reports the HTTP-like status code. Tests substitute a fake.
type Transport interface {
	Send(ctx context.Context, sub Subscription, payload []byte) (int, error)
}

// WebPushTransport is the real Transport, backed by webpush-go.
type WebPushTransport struct {
	keys   VAPIDKeys
	ttl    int
	client *http.Client
}

// NewWebPushTransport builds a transport signing with keys.
func NewWebPushTransport(keys VAPIDKeys) *WebPushTransport {
	return &WebPushTransport{
		keys:   keys,
		ttl:    60,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *WebPushTransport) Send(ctx context.Context, sub Subscription, payload []byte) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      t.client,
		Subscriber:      t.keys.Subject,
		VAPIDPublicKey:  t.keys.PublicKey,
		VAPIDPrivateKey: t.keys.PrivateKey,
		TTL:             t.ttl,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
