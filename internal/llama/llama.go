package llama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/chriskillpack/imgsum/describer"
)

const (
	imageSuffix = `
ASSISTANT:`

	imageID = 10
)

type jsonmap map[string]any

// These were lifted from the web inspector for the server UI
var defaultparams = jsonmap{
	"n_predict":         400,
	"n_probs":           0,
	"stop":              []string{"</s>", "USER:", "ASSISTANT:"},
	"repeat_last_n":     256,
	"repeat_penalty":    1.18,
	"top_k":             40,
	"top_p":             0.5,
	"tfs_z":             1,
	"typical_p":         1,
	"presence_penalty":  0,
	"frequency_penalty": 0,
	"mirostat":          0,
	"mirostat_tau":      5,
	"mirostat_eta":      0.1,
	"grammar":           "",
	"slot_id":           -1,
	"cache_prompt":      true,
	"stream":            false,
}

type llama struct {
	srvAddr string
	seed    int

	client *http.Client
}

var _ describer.Describer = &llama{}

func Init(srvAddr string, seed int, httpClient *http.Client) *llama {
	return &llama{
		srvAddr: strings.TrimSuffix(srvAddr, "/"),
		seed:    seed,
		client:  httpClient,
	}
}

func (l *llama) Name() string { return "llama" }

// Model is fixed by whatever the server was started with.
func (l *llama) Model() string { return "llava" }

func (l *llama) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.srvAddr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (l *llama) Describe(ctx context.Context, req describer.Request) (string, error) {
	// llama.cpp wants the bare base64 payload, not a data URI
	_, imb64, found := strings.Cut(req.ImageURL, ";base64,")
	if !found {
		return "", fmt.Errorf("image is not a base64 data URI")
	}

	prompt := req.SystemPrompt + "\nUSER:" + fmt.Sprintf("[img-%d]", imageID) + req.Prompt + imageSuffix
	return l.sendRequest(ctx, prompt, jsonmap{
		"temperature": req.Temperature,
		"image_data": []jsonmap{
			{
				"data": imb64, "id": imageID,
			},
		},
	})
}

func (l *llama) sendRequest(ctx context.Context, prompt string, keys jsonmap) (string, error) {
	data := maps.Clone(defaultparams)
	maps.Copy(data, keys)
	data["prompt"] = prompt
	data["seed"] = l.seed

	buf := bytes.NewBuffer(make([]byte, 0, 2_000_000)) // The buffer will be resized by Encode
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&data); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.srvAddr+"/completion", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// llama.cpp answers 429/503 when every slot is busy
		return "", fmt.Errorf("%w: llama server returned %s", describer.ErrRateLimited, resp.Status)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return "", fmt.Errorf("%w: llama server returned %s", describer.ErrRateLimited, resp.Status)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llama server returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	respbody := struct {
		Content string
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&respbody); err != nil {
		return "", err
	}

	return strings.TrimSpace(respbody.Content), nil
}
