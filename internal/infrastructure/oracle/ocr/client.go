// Package ocr implements the image-to-text oracle over a multipart HTTP
// endpoint returning text, tokens with bounding boxes, and lines.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/common"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

const maxErrorBody = 512

// Config configures the client.
type Config struct {
	Endpoint    string
	APIKey      string
	HTTPTimeout time.Duration
}

// Client posts images as multipart/form-data under the "file" field.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config, logger logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.NewValidationError("oracle.ocr.endpoint", "must not be empty")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger.Named("ocr"),
	}, nil
}

type wireToken struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	BBox       medication.BBox `json:"bbox"`
}

type wireResult struct {
	Text              string      `json:"text"`
	OverallConfidence float64     `json:"overall_confidence"`
	Tokens            []wireToken `json:"tokens"`
	Lines             []string    `json:"lines"`
}

// Recognize implements common.TextRecognizer.
func (c *Client) Recognize(ctx context.Context, image []byte, languageHints []string) (*common.RecognitionResult, error) {
	if len(image) == 0 {
		return nil, errors.New(errors.ErrCodeInputValidation, "image is empty")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "prescription.jpg")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build ocr request")
	}
	if _, err := part.Write(image); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build ocr request")
	}
	if len(languageHints) > 0 {
		_ = writer.WriteField("languages", strings.Join(languageHints, ","))
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build ocr request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOracleUnavailable, "failed to build ocr request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if common.IsDeadline(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeOracleUnavailable, "ocr request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.Newf(errors.ErrCodeOracleUnavailable, "ocr endpoint returned %s", resp.Status).
			WithDetail(strings.TrimSpace(string(msg)))
	}

	var wr wireResult
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		if common.IsDeadline(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeOracleOutput, "invalid ocr response")
	}

	res := toResult(wr)
	c.logger.Debug("ocr completed",
		logging.Duration("latency", time.Since(start)),
		logging.Int("tokens", len(res.Tokens)),
		logging.Float64("overall_confidence", res.OverallConfidence),
	)
	return res, nil
}

// toResult normalises percentages to [0,1] and derives lines from text when
// the engine omitted them.
func toResult(wr wireResult) *common.RecognitionResult {
	res := &common.RecognitionResult{
		Text:              wr.Text,
		OverallConfidence: normalizeConfidence(wr.OverallConfidence),
		Tokens:            make([]medication.OCRToken, 0, len(wr.Tokens)),
		Lines:             wr.Lines,
	}
	for _, t := range wr.Tokens {
		res.Tokens = append(res.Tokens, medication.OCRToken{
			Text:       t.Text,
			Confidence: normalizeConfidence(t.Confidence),
			BBox:       t.BBox,
		})
	}
	if len(res.Lines) == 0 && res.Text != "" {
		for _, l := range strings.Split(res.Text, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				res.Lines = append(res.Lines, l)
			}
		}
	}
	if res.Text == "" && len(res.Lines) > 0 {
		res.Text = strings.Join(res.Lines, "\n")
	}
	return res
}

func normalizeConfidence(c float64) float64 {
	if c > 1 {
		c /= 100
	}
	return medication.ClampConfidence(c)
}

var _ common.TextRecognizer = (*Client)(nil)
