// Package registryclient is the only component permitted to perform I/O
// against a distribution v2 registry (§4.3). It adapts the catalog/tags/
// manifest/blob HTTP surface into the plain value types the policy and
// rule packages operate on.
//
// Grounded on the teacher repo's internal/registry/client.go: same
// baseURL+doRequest shape, same Link-header catalog pagination, same
// Basic-auth-when-configured rule — generalized to follow OCI image
// indexes / schema-2 manifest lists one level and to distinguish a 404
// delete (already gone, treat as success) from a 405 (deletes disabled).
package registryclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"abwart/internal/model"
)

// ErrDeletesDisabled is returned by DeleteTag when the registry responds
// 405 (storage.delete.enabled = false server-side).
var ErrDeletesDisabled = errors.New("registryclient: registry has deletes disabled")

const (
	mediaTypeOCIIndex      = "application/vnd.oci.image.index.v1+json"
	mediaTypeDockerList    = "application/vnd.docker.distribution.manifest.list.v2+json"
	mediaTypeOCIManifest   = "application/vnd.oci.image.manifest.v1+json"
	mediaTypeDockerV2      = "application/vnd.docker.distribution.manifest.v2+json"
	acceptManifestVariants = mediaTypeOCIIndex + ", " + mediaTypeDockerList + ", " + mediaTypeOCIManifest + ", " + mediaTypeDockerV2
)

// Client talks to one registry instance's distribution v2 API.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// New constructs a Client. insecure disables TLS certificate verification,
// for registries fronted by a self-signed certificate (common in
// self-hosted deployments, §1).
func New(baseURL, username, password string, insecure bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string) (*http.Response, error) {
	url := c.baseURL + path
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		url = path
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.http.Do(req)
}

// Ping checks GET /v2/ for reachability and auth.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/v2/", nil)
	if err != nil {
		return fmt.Errorf("registryclient: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registryclient: ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type catalogResponse struct {
	Repositories []string `json:"repositories"`
}

// ListRepositories performs a full paginated catalog traversal.
func (c *Client) ListRepositories(ctx context.Context) ([]string, error) {
	var all []string
	next := "/v2/_catalog?n=100"

	for next != "" {
		resp, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("registryclient: list repositories: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("registryclient: catalog returned %d: %s", resp.StatusCode, body)
		}

		var page catalogResponse
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("registryclient: decode catalog: %w", err)
		}
		all = append(all, page.Repositories...)

		link := resp.Header.Get("Link")
		resp.Body.Close()
		next = nextFromLink(link)
	}
	return all, nil
}

// nextFromLink extracts the rel="next" URL from an RFC 5988 Link header,
// e.g. `</v2/_catalog?n=100&last=x>; rel="next"`.
func nextFromLink(link string) string {
	if link == "" {
		return ""
	}
	parts := strings.SplitN(link, ";", 2)
	if len(parts) < 2 || !strings.Contains(parts[1], `rel="next"`) {
		return ""
	}
	return strings.Trim(strings.TrimSpace(parts[0]), "<>")
}

type tagsResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// ListTags returns every tag name in repo.
func (c *Client) ListTags(ctx context.Context, repo string) ([]string, error) {
	var all []string
	next := fmt.Sprintf("/v2/%s/tags/list?n=100", repo)

	for next != "" {
		resp, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, fmt.Errorf("registryclient: list tags %s: %w", repo, err)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("registryclient: tags/list %s returned %d: %s", repo, resp.StatusCode, body)
		}
		var page tagsResponse
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("registryclient: decode tags/list %s: %w", repo, err)
		}
		all = append(all, page.Tags...)

		link := resp.Header.Get("Link")
		resp.Body.Close()
		next = nextFromLink(link)
	}
	return all, nil
}

type manifestDescriptor struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
	Platform  *struct {
		Architecture string `json:"architecture"`
		OS           string `json:"os"`
	} `json:"platform,omitempty"`
}

type manifestDoc struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType"`
	Config        *manifestDescriptor  `json:"config,omitempty"`
	Layers        []manifestDescriptor `json:"layers,omitempty"`
	Manifests     []manifestDescriptor `json:"manifests,omitempty"` // index / manifest list
	Annotations   map[string]string    `json:"annotations,omitempty"`
}

func isIndex(mt string) bool {
	return mt == mediaTypeOCIIndex || mt == mediaTypeDockerList
}

// getManifest fetches and decodes one manifest document by tag or digest,
// returning the parsed body and the resolved Docker-Content-Digest header.
func (c *Client) getManifest(ctx context.Context, repo, ref string) (manifestDoc, string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v2/%s/manifests/%s", repo, ref), map[string]string{
		"Accept": acceptManifestVariants,
	})
	if err != nil {
		return manifestDoc{}, "", fmt.Errorf("registryclient: get manifest %s/%s: %w", repo, ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return manifestDoc{}, "", fmt.Errorf("registryclient: manifest %s/%s returned %d: %s", repo, ref, resp.StatusCode, body)
	}

	var doc manifestDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return manifestDoc{}, "", fmt.Errorf("registryclient: decode manifest %s/%s: %w", repo, ref, err)
	}
	return doc, resp.Header.Get("Docker-Content-Digest"), nil
}

// DigestForTag performs a HEAD request to resolve a tag's current digest
// without downloading the manifest body.
func (c *Client) DigestForTag(ctx context.Context, repo, tag string) (string, error) {
	resp, err := c.do(ctx, http.MethodHead, fmt.Sprintf("/v2/%s/manifests/%s", repo, tag), map[string]string{
		"Accept": acceptManifestVariants,
	})
	if err != nil {
		return "", fmt.Errorf("registryclient: head manifest %s/%s: %w", repo, tag, err)
	}
	defer resp.Body.Close()
	digest := resp.Header.Get("Docker-Content-Digest")
	if digest == "" {
		return "", fmt.Errorf("registryclient: no digest for %s/%s", repo, tag)
	}
	return digest, nil
}

type configBlob struct {
	Created time.Time `json:"created"`
}

// FetchTagMetadata resolves a tag to its manifest, follows one level of
// OCI image index / schema-2 manifest list into per-platform manifests,
// and sums TotalBlobSize over the unique blob digests (config + layers)
// in the resolved set (§4.3, §9 open question — resolved as "unique
// blob digests within one tag's transitive closure").
func (c *Client) FetchTagMetadata(ctx context.Context, repo, tag string) (model.Tag, error) {
	top, _, err := c.getManifest(ctx, repo, tag)
	if err != nil {
		return model.Tag{}, err
	}

	blobSizes := make(map[string]int64)
	var createdAt time.Time
	var haveCreated bool

	platformManifests := []manifestDoc{top}
	if isIndex(top.MediaType) || len(top.Manifests) > 0 {
		platformManifests = nil
		for _, m := range top.Manifests {
			child, _, err := c.getManifest(ctx, repo, m.Digest)
			if err != nil {
				// One platform failing to resolve shouldn't sink the whole tag;
				// skip it and keep going with the rest (§7 Registry-IO policy).
				continue
			}
			platformManifests = append(platformManifests, child)
		}
	}

	for _, m := range platformManifests {
		if m.Config != nil && m.Config.Digest != "" {
			blobSizes[m.Config.Digest] = m.Config.Size
			if created, ok := c.configCreated(ctx, repo, m.Config.Digest); ok {
				if !haveCreated || created.After(createdAt) {
					createdAt = created
					haveCreated = true
				}
			}
		}
		for _, l := range m.Layers {
			blobSizes[l.Digest] = l.Size
		}
	}

	if created, ok := top.Annotations["org.opencontainers.image.created"]; ok {
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			createdAt = ts
			haveCreated = true
		}
	}

	var total int64
	for _, sz := range blobSizes {
		total += sz
	}

	return model.Tag{
		Name:             tag,
		CreatedAt:        createdAt,
		TotalBlobSize:    total,
		CreatedAtUnknown: !haveCreated,
	}, nil
}

func (c *Client) configCreated(ctx context.Context, repo, digest string) (time.Time, bool) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v2/%s/blobs/%s", repo, digest), nil)
	if err != nil {
		return time.Time{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, false
	}
	var cfg configBlob
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil || cfg.Created.IsZero() {
		return time.Time{}, false
	}
	return cfg.Created, true
}

// DeleteTag deletes repo:tag by manifest digest. A 404 is treated as
// success (the tag is already gone); a 405 maps to ErrDeletesDisabled so
// the caller can stop further deletes for this instance (§7).
func (c *Client) DeleteTag(ctx context.Context, repo, tag string) error {
	digest, err := c.DigestForTag(ctx, repo, tag)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v2/%s/manifests/%s", repo, digest), nil)
	if err != nil {
		return fmt.Errorf("registryclient: delete %s/%s: %w", repo, tag, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return nil
	case http.StatusMethodNotAllowed:
		return ErrDeletesDisabled
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("registryclient: delete %s/%s returned %d: %s", repo, tag, resp.StatusCode, body)
	}
}
