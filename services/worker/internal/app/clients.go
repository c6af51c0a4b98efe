package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dessincoach/internal/servicetoken"
	"dessincoach/pkg/domain"
)

// Annotator draws correction overlays on a submitted drawing and returns the
// annotated image URL. Synchronous.
type Annotator interface {
	Annotate(ctx context.Context, taskID, imageURL string, analysis domain.Analysis, rankLabel string) (string, error)
}

// ExampleDispatcher asks the enrichment service to generate a reference
// example image. The service calls back to the review API when done, so a
// successful dispatch returns before the image exists. annotatedImageURL is
// empty when the annotation step failed or was not configured.
type ExampleDispatcher interface {
	Dispatch(ctx context.Context, taskID, userID, imageURL string, analysis domain.Analysis, annotatedImageURL string) error
}

type httpEnrichClient struct {
	baseURL    string
	audience   string
	signer     *servicetoken.Signer
	httpClient *http.Client
}

func newEnrichClient(baseURL, audience string, signer *servicetoken.Signer) (*httpEnrichClient, error) {
	if signer == nil {
		return nil, fmt.Errorf("internal signer is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("enrichment base url is required")
	}
	return &httpEnrichClient{
		baseURL:    baseURL,
		audience:   audience,
		signer:     signer,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *httpEnrichClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	token, err := c.signer.Sign(c.audience)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("enrichment error: %s", msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// annotationClient calls the annotation enrichment service.
type annotationClient struct {
	*httpEnrichClient
}

// NewAnnotationClient builds an Annotator for the given service URL.
func NewAnnotationClient(baseURL string, signer *servicetoken.Signer) (Annotator, error) {
	inner, err := newEnrichClient(baseURL, "dessin-annotator", signer)
	if err != nil {
		return nil, err
	}
	return &annotationClient{inner}, nil
}

func (c *annotationClient) Annotate(ctx context.Context, taskID, imageURL string, analysis domain.Analysis, rankLabel string) (string, error) {
	var resp struct {
		AnnotatedImageURL string `json:"annotatedImageUrl"`
	}
	err := c.post(ctx, "/internal/annotations", map[string]any{
		"taskId":    taskID,
		"imageUrl":  imageURL,
		"analysis":  analysis,
		"rankLabel": rankLabel,
		"tags":      analysis.Tags,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AnnotatedImageURL == "" {
		return "", fmt.Errorf("annotation response missing image url")
	}
	return resp.AnnotatedImageURL, nil
}

// exampleClient calls the example image enrichment service.
type exampleClient struct {
	*httpEnrichClient
	callbackURL string
}

// NewExampleClient builds an ExampleDispatcher. callbackURL is the review
// API endpoint the enricher will call once the image is ready.
func NewExampleClient(baseURL, callbackURL string, signer *servicetoken.Signer) (ExampleDispatcher, error) {
	inner, err := newEnrichClient(baseURL, "dessin-exampler", signer)
	if err != nil {
		return nil, err
	}
	return &exampleClient{httpEnrichClient: inner, callbackURL: strings.TrimSpace(callbackURL)}, nil
}

func (c *exampleClient) Dispatch(ctx context.Context, taskID, userID, imageURL string, analysis domain.Analysis, annotatedImageURL string) error {
	payload := map[string]any{
		"taskId":      taskID,
		"userId":      userID,
		"imageUrl":    imageURL,
		"analysis":    analysis,
		"tags":        analysis.Tags,
		"callbackUrl": c.callbackURL,
	}
	if annotatedImageURL != "" {
		payload["annotatedImageUrl"] = annotatedImageURL
	}
	return c.post(ctx, "/internal/examples", payload, nil)
}
