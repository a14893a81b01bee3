package push

import (
	"context"
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
)

// APNsOptions configures the wallet push transport. The certificate is the
// pass type certificate, not an app push certificate. CertFile may be a .p12
// bundle or a PEM holding both certificate and key; KeyFile names a separate
// PEM key when the two are split.
type APNsOptions struct {
	CertFile     string
	KeyFile      string
	CertPassword string
	Host         string
}

// APNs sends empty wallet pushes through an apns2 client.
type APNs struct {
	client *apns2.Client
}

// NewAPNs loads the client certificate. Missing or unreadable certificates
// yield an Unavailable transport.
func NewAPNs(opts APNsOptions) Transport {
	if opts.CertFile == "" {
		return Unavailable{Kind: KindAPNs, Reason: "APNS_CERT_FILE not configured"}
	}
	cert, err := loadCertificate(opts)
	if err != nil {
		return Unavailable{Kind: KindAPNs, Reason: "load certificate: " + err.Error()}
	}

	client := apns2.NewClient(cert).Production()
	if opts.Host != "" {
		client.Host = strings.TrimSuffix(opts.Host, "/")
	}
	return NewAPNsWithClient(client)
}

// NewAPNsWithClient builds the transport around an existing apns2 client.
func NewAPNsWithClient(client *apns2.Client) *APNs {
	return &APNs{client: client}
}

func loadCertificate(opts APNsOptions) (tls.Certificate, error) {
	if strings.EqualFold(filepath.Ext(opts.CertFile), ".p12") {
		return certificate.FromP12File(opts.CertFile, opts.CertPassword)
	}
	if opts.KeyFile == "" {
		return certificate.FromPemFile(opts.CertFile, opts.CertPassword)
	}
	certPEM, err := os.ReadFile(opts.CertFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(opts.KeyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	return certificate.FromPemBytes(append(append(certPEM, '\n'), keyPEM...), opts.CertPassword)
}

// Send posts an empty payload with the pass type as topic. Wallet pushes are
// background pushes at low priority.
func (a *APNs) Send(ctx context.Context, target Target, _ Payload) error {
	if target.Token == "" {
		return permanent(errors.New("apns: empty device token"))
	}
	res, err := a.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: target.Token,
		Topic:       target.Topic,
		Payload:     []byte("{}"),
		PushType:    apns2.PushTypeBackground,
		Priority:    apns2.PriorityLow,
	})
	if err != nil {
		return transient(errors.Wrap(err, "apns: send"))
	}
	if res.Sent() {
		return nil
	}
	return classify(KindAPNs, res.StatusCode, res.Reason, func(reason string) bool {
		return reason == apns2.ReasonBadDeviceToken || reason == apns2.ReasonDeviceTokenNotForTopic
	})
}
