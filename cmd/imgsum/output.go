package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/chriskillpack/imgsum"
	"gopkg.in/yaml.v3"
)

type skippedOutput struct {
	URL     string `json:"url" yaml:"url"`
	Ordinal int    `json:"ordinal" yaml:"ordinal"`
	Stage   string `json:"stage" yaml:"stage"`
	Error   string `json:"error" yaml:"error"`
}

type pageOutput struct {
	PageID  string             `json:"page_id" yaml:"page_id"`
	Images  []imgsum.PageImage `json:"images" yaml:"images"`
	Skipped []skippedOutput    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

func toOutput(results []*imgsum.PageResult) []pageOutput {
	out := make([]pageOutput, 0, len(results))
	for _, res := range results {
		// Pages that failed before producing a result
		if res == nil {
			continue
		}

		po := pageOutput{PageID: res.PageID, Images: res.Images}
		if po.Images == nil {
			po.Images = []imgsum.PageImage{}
		}
		for _, s := range res.Skipped {
			po.Skipped = append(po.Skipped, skippedOutput{
				URL:     s.Reference.URL,
				Ordinal: s.Reference.Ordinal,
				Stage:   s.Stage,
				Error:   s.Err.Error(),
			})
		}
		out = append(out, po)
	}
	return out
}

func writeResults(w io.Writer, format string, results []*imgsum.PageResult) error {
	out := toOutput(results)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
