// Package delivery talks to the legacy media-transformation CDN: pure
// transform injection into delivery URLs, original downloads and asset
// destruction through the Cloudinary upload API.
package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/tendant/mediaref/pkg/mediaref"
)

const (
	// DefaultAPIBase is the management API of the delivery service.
	DefaultAPIBase = "https://api.cloudinary.com"

	uploadSegment = "/upload/"
)

// Preset names.
const (
	PresetThumb  = "thumb"
	PresetMedium = "medium"
	PresetLarge  = "large"
)

// Presets is the fixed whitelist of derivative transforms.
var Presets = map[string]string{
	PresetThumb:  "c_fill,w_150,h_150,q_auto,f_auto",
	PresetMedium: "c_limit,w_600,q_auto,f_auto",
	PresetLarge:  "c_limit,w_1200,q_auto,f_auto",
}

var (
	versionSegment   = regexp.MustCompile(`(^|/)v\d+/`)
	transformSegment = regexp.MustCompile(`^[a-z]{1,3}_[^/,]+(,[a-z]{1,3}_[^/,]+)*/`)
)

// Config for the delivery client.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	APIBase   string
	Timeout   time.Duration
}

// Client implements mediaref.LegacyDelivery. Originals are fetched over
// plain HTTP; destroy goes through the Cloudinary SDK.
type Client struct {
	config Config
	http   *http.Client
	cld    *cloudinary.Cloudinary
}

var _ mediaref.LegacyDelivery = (*Client)(nil)

// New creates a Client. Without full credentials the client can still fetch
// and rewrite URLs but Destroy fails.
func New(config Config) *Client {
	if config.APIBase == "" {
		config.APIBase = DefaultAPIBase
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = config.Timeout
	c := &Client{
		config: config,
		// no overall timeout: bodies of large originals are streamed
		http: &http.Client{Transport: transport},
	}
	if config.CloudName != "" && config.APIKey != "" && config.APISecret != "" {
		if cld, err := cloudinary.NewFromParams(config.CloudName, config.APIKey, config.APISecret); err == nil {
			cld.Config.API.UploadPrefix = strings.TrimSuffix(config.APIBase, "/")
			c.cld = cld
		}
	}
	return c
}

// InjectTransform inserts presetSpec right after the upload segment.
func (c *Client) InjectTransform(raw, presetSpec string) (string, bool) {
	return InjectTransform(raw, presetSpec)
}

// InjectTransform is the pure form of Client.InjectTransform.
func InjectTransform(raw, presetSpec string) (string, bool) {
	idx := strings.Index(raw, uploadSegment)
	if idx < 0 || presetSpec == "" {
		return raw, false
	}
	head := raw[:idx+len(uploadSegment)]
	tail := raw[idx+len(uploadSegment):]
	if strings.HasPrefix(tail, presetSpec+"/") {
		return raw, true
	}
	return head + presetSpec + "/" + tail, true
}

// Derive computes the derivative triple of an original delivery URL.
func Derive(raw string) (mediaref.Derivatives, bool) {
	thumb, ok := InjectTransform(raw, Presets[PresetThumb])
	if !ok {
		return mediaref.Derivatives{}, false
	}
	medium, _ := InjectTransform(raw, Presets[PresetMedium])
	large, _ := InjectTransform(raw, Presets[PresetLarge])
	return mediaref.Derivatives{Thumb: thumb, Medium: medium, Large: large}, true
}

// PublicID extracts the asset identifier and resource type.
func (c *Client) PublicID(raw string) (string, string, bool) {
	return PublicID(raw)
}

// PublicID is the pure form of Client.PublicID. The public id is the path
// after the upload segment without version prefix and extension.
func PublicID(raw string) (publicID, resourceType string, ok bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	p := u.Path
	idx := strings.Index(p, uploadSegment)
	if idx < 0 {
		return "", "", false
	}

	resourceType = "image"
	for _, rt := range []string{"image", "video", "raw"} {
		if strings.HasSuffix(p[:idx], "/"+rt) {
			resourceType = rt
			break
		}
	}

	rest := p[idx+len(uploadSegment):]
	if loc := versionSegment.FindStringIndex(rest); loc != nil {
		rest = rest[loc[1]:]
	} else {
		for transformSegment.MatchString(rest) {
			rest = transformSegment.ReplaceAllString(rest, "")
		}
	}
	if resourceType != "raw" {
		if dot := strings.LastIndex(rest, "."); dot > strings.LastIndex(rest, "/") {
			rest = rest[:dot]
		}
	}
	if rest == "" {
		return "", "", false
	}
	return rest, resourceType, true
}

// FetchOriginal opens the original behind raw. The body is streamed, not
// buffered; the caller closes it.
func (c *Client) FetchOriginal(ctx context.Context, raw string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch original: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, 0, mediaref.ErrObjectNotFound
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch original: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// Destroy deletes an asset and invalidates its cached derivatives. An
// already missing asset is not an error.
func (c *Client) Destroy(ctx context.Context, publicID, resourceType string) error {
	if c.cld == nil {
		return fmt.Errorf("destroy %s: delivery credentials not configured", publicID)
	}
	if resourceType == "" {
		resourceType = "image"
	}

	res, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("destroy %s: %w", publicID, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("destroy %s: %s", publicID, res.Error.Message)
	}
	switch res.Result {
	case "ok", "not found":
		return nil
	}
	return fmt.Errorf("destroy %s: unexpected result %q", publicID, res.Result)
}
