package push

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/cockroachdb/errors"
)

const defaultTTL = 24 * time.Hour

// Subscription is the browser PushSubscription serialised by the client.
type Subscription = webpush.Subscription

// ParseSubscription decodes and validates a JSON subscription. The keys must
// decode to an uncompressed P-256 point and a 16 byte auth secret so a stored
// subscription can always be encrypted to.
func ParseSubscription(raw string) (Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return Subscription{}, errors.Wrap(err, "decode subscription")
	}
	u, err := url.Parse(sub.Endpoint)
	if err != nil || u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return Subscription{}, errors.Newf("invalid subscription endpoint %q", sub.Endpoint)
	}
	if sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return Subscription{}, errors.New("subscription keys are required")
	}
	if b, err := decodeKey(sub.Keys.P256dh); err != nil || len(b) != 65 {
		return Subscription{}, errors.New("subscription p256dh is not a P-256 public key")
	}
	if b, err := decodeKey(sub.Keys.Auth); err != nil || len(b) != 16 {
		return Subscription{}, errors.New("subscription auth secret must be 16 bytes")
	}
	return sub, nil
}

// WebPushOptions configures the VAPID identity. Keys are the base64url
// strings produced by passctl vapid-keys.
type WebPushOptions struct {
	PrivateKey string
	PublicKey  string
	Subject    string
	HTTPClient *http.Client
}

// WebPush delivers browser pushes with VAPID and aes128gcm payloads.
type WebPush struct {
	options webpush.Options
}

// NewWebPush validates the VAPID keys. Missing or malformed keys yield an
// Unavailable transport.
func NewWebPush(opts WebPushOptions) Transport {
	if opts.PrivateKey == "" || opts.PublicKey == "" {
		return Unavailable{Kind: KindWebPush, Reason: "WEBPUSH_VAPID_PRIVATE_KEY and WEBPUSH_VAPID_PUBLIC_KEY not configured"}
	}
	wp, err := NewWebPushWithKeys(opts)
	if err != nil {
		return Unavailable{Kind: KindWebPush, Reason: err.Error()}
	}
	return wp
}

// NewWebPushWithKeys builds the transport, reporting malformed keys as errors.
func NewWebPushWithKeys(opts WebPushOptions) (*WebPush, error) {
	if b, err := decodeKey(opts.PrivateKey); err != nil || len(b) != 32 {
		return nil, errors.New("vapid private key must be a base64url P-256 scalar")
	}
	if b, err := decodeKey(opts.PublicKey); err != nil || len(b) != 65 {
		return nil, errors.New("vapid public key must be a base64url uncompressed P-256 point")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebPush{options: webpush.Options{
		HTTPClient:      client,
		Subscriber:      strings.TrimPrefix(opts.Subject, "mailto:"),
		TTL:             int(defaultTTL.Seconds()),
		Urgency:         webpush.UrgencyNormal,
		VAPIDPublicKey:  opts.PublicKey,
		VAPIDPrivateKey: opts.PrivateKey,
	}}, nil
}

// GenerateVAPIDKeys returns a fresh base64url key pair.
func GenerateVAPIDKeys() (private, public string, err error) {
	private, public, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", errors.Wrap(err, "generate vapid keys")
	}
	return private, public, nil
}

// Send posts to the subscription endpoint. Target.Token holds the JSON subscription.
func (w *WebPush) Send(ctx context.Context, target Target, payload Payload) error {
	sub, err := ParseSubscription(target.Token)
	if err != nil {
		return permanent(err)
	}

	options := w.options
	resp, err := webpush.SendNotificationWithContext(ctx, []byte(payload.Message), &sub, &options)
	if err != nil {
		return transient(errors.Wrap(err, "webpush: send"))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return classify(KindWebPush, resp.StatusCode, strings.TrimSpace(string(raw)), nil)
}

// decodeKey accepts both padded and unpadded base64url, as browsers differ.
func decodeKey(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
