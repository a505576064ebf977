package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"storybook/internal/assets"
	"storybook/internal/jobs"
	"storybook/internal/manifest"
	"storybook/internal/services"
)

// Outputs lists the artifacts a project has produced so far. References are
// server-relative; resolve them with Client.ResolveURL.
type Outputs struct {
	Title  string   `json:"title"`
	Images []string `json:"images"`
	PDF    string   `json:"pdf"`
	Video  string   `json:"video"`
}

// Project is a Client bound to one project id.
type Project struct {
	client *Client
	id     string
}

// ID returns the bound project id.
func (p *Project) ID() string {
	return p.id
}

// Client returns the underlying client.
func (p *Project) Client() *Client {
	return p.client
}

// PollJob delegates to Client.PollJob.
func (p *Project) PollJob(ctx context.Context, jobID string) (jobs.Report, error) {
	return p.client.PollJob(ctx, jobID)
}

// UploadAsset stores one reference image and returns the backend storage path.
func (p *Project) UploadAsset(ctx context.Context, assetType assets.Type, slug string, file assets.File) (string, error) {
	if file.IsZero() {
		return "", services.Wrap(services.ErrValidation, "backend", "upload asset", "file is required", nil)
	}
	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("upload asset %s: open %s: %w", slug, file.Name, err)
	}
	defer src.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("asset_type", string(assetType)); err != nil {
		return "", fmt.Errorf("upload asset %s: %w", slug, err)
	}
	if err := writer.WriteField("slug", slug); err != nil {
		return "", fmt.Errorf("upload asset %s: %w", slug, err)
	}
	part, err := writer.CreateFormFile("file", file.Name)
	if err != nil {
		return "", fmt.Errorf("upload asset %s: %w", slug, err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return "", fmt.Errorf("upload asset %s: read %s: %w", slug, file.Name, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("upload asset %s: %w", slug, err)
	}

	var resp struct {
		OK   bool   `json:"ok"`
		Path string `json:"path"`
	}
	rel := p.path("assets")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.client.endpoint(rel), &body)
	if err != nil {
		return "", fmt.Errorf("upload asset %s: new request: %w", slug, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if err := p.client.send(ctx, p.client.uploadClient, req, rel, &resp); err != nil {
		return "", err
	}
	return resp.Path, nil
}

// SaveManifest stores the project manifest.
func (p *Project) SaveManifest(ctx context.Context, m manifest.Manifest) error {
	var resp struct {
		OK bool `json:"ok"`
	}
	return p.client.doJSON(ctx, http.MethodPost, p.path("manifest"), m, &resp)
}

// GenerateImages starts bulk image generation and returns the job id.
func (p *Project) GenerateImages(ctx context.Context) (string, error) {
	return p.startJob(ctx, "generate-images")
}

// Finalize starts PDF and video assembly and returns the job id.
func (p *Project) Finalize(ctx context.Context) (string, error) {
	return p.startJob(ctx, "finalize")
}

// RegenPage starts regeneration of one page image. Index 0 is the title page.
func (p *Project) RegenPage(ctx context.Context, pageIndex int, instruction string) (string, error) {
	if pageIndex < 0 {
		return "", services.Wrap(services.ErrValidation, "backend", "regen page", "page index must not be negative", nil)
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("page_index", strconv.Itoa(pageIndex)); err != nil {
		return "", fmt.Errorf("regen page %d: %w", pageIndex, err)
	}
	if err := writer.WriteField("extra_instruction", instruction); err != nil {
		return "", fmt.Errorf("regen page %d: %w", pageIndex, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("regen page %d: %w", pageIndex, err)
	}
	rel := p.path("regen-page")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.client.endpoint(rel), &body)
	if err != nil {
		return "", fmt.Errorf("regen page %d: new request: %w", pageIndex, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	var resp jobResponse
	if err := p.client.send(ctx, p.client.httpClient, req, rel, &resp); err != nil {
		return "", err
	}
	return resp.jobID("regen page")
}

// Outputs lists the project's generated artifacts.
func (p *Project) Outputs(ctx context.Context) (Outputs, error) {
	var out Outputs
	if err := p.client.doJSON(ctx, http.MethodGet, p.path("outputs"), nil, &out); err != nil {
		return Outputs{}, err
	}
	if out.Images == nil {
		out.Images = []string{}
	}
	return out, nil
}

type jobResponse struct {
	JobID string `json:"job_id"`
}

func (r jobResponse) jobID(op string) (string, error) {
	if id := strings.TrimSpace(r.JobID); id != "" {
		return id, nil
	}
	return "", services.Wrap(services.ErrRemote, "backend", op, "response missing job_id", nil)
}

func (p *Project) startJob(ctx context.Context, action string) (string, error) {
	var resp jobResponse
	if err := p.client.doJSON(ctx, http.MethodPost, p.path(action), nil, &resp); err != nil {
		return "", err
	}
	return resp.jobID(action)
}

func (p *Project) path(action string) string {
	return "projects/" + url.PathEscape(p.id) + "/" + action
}
