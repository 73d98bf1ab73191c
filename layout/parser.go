// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package layout turns PDF bytes into positioned content blocks.
//
// A layout service does the actual PDF analysis. HTTPParser talks to it;
// JSONParser reads its output format directly for offline ingestion and tests.
package layout

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/poiesic/veridoc/core"
)

var (
	// ErrEndpointRequired indicates the layout service endpoint was not set.
	ErrEndpointRequired = errors.New("layout endpoint is required")

	// ErrNoBlocks indicates the document produced no usable blocks.
	ErrNoBlocks = errors.New("document produced no blocks")

	// ErrServiceFailed indicates the layout service returned an error status.
	ErrServiceFailed = errors.New("layout service failed")
)

// Parser extracts positioned blocks from a document.
type Parser interface {
	Parse(ctx context.Context, data []byte) ([]core.Block, error)
}

// blockDoc is the wire format shared by the layout service and block files.
type blockDoc struct {
	Blocks []wireBlock `json:"blocks"`
}

type wireBlock struct {
	Page     int       `json:"page"`
	BBox     []float32 `json:"bbox"`
	Kind     string    `json:"kind"`
	Text     string    `json:"text"`
	ImageB64 string    `json:"image_b64,omitempty"`
}

// DecodeBlocks reads the block JSON format. Blocks that cannot be decoded are
// skipped and logged; an input with no usable blocks returns ErrNoBlocks.
func DecodeBlocks(r io.Reader, logger *slog.Logger) ([]core.Block, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var doc blockDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding blocks: %w", err)
	}

	blocks := make([]core.Block, 0, len(doc.Blocks))
	for i, wb := range doc.Blocks {
		block, err := wb.toBlock()
		if err != nil {
			logger.Warn("skipping undecodable block", "index", i, "page", wb.Page, "err", err)
			continue
		}
		if block.Kind != core.KindImage && strings.TrimSpace(block.Text) == "" {
			continue
		}
		blocks = append(blocks, block)
	}

	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}
	return blocks, nil
}

// EncodeBlocks writes blocks in the block JSON format.
func EncodeBlocks(w io.Writer, blocks []core.Block) error {
	doc := blockDoc{Blocks: make([]wireBlock, len(blocks))}
	for i, b := range blocks {
		wb := wireBlock{
			Page: b.Page,
			BBox: []float32{b.Box.X0, b.Box.Y0, b.Box.X1, b.Box.Y1},
			Kind: b.Kind.String(),
			Text: b.Text,
		}
		if len(b.Image) > 0 {
			wb.ImageB64 = base64.StdEncoding.EncodeToString(b.Image)
		}
		doc.Blocks[i] = wb
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (wb wireBlock) toBlock() (core.Block, error) {
	block := core.Block{
		Page: wb.Page,
		Kind: core.ParseContentKind(wb.Kind),
		Text: wb.Text,
	}
	if block.Page < 0 {
		return block, fmt.Errorf("negative page %d", wb.Page)
	}
	if len(wb.BBox) == 4 {
		block.Box = core.Box{X0: wb.BBox[0], Y0: wb.BBox[1], X1: wb.BBox[2], Y1: wb.BBox[3]}
	}
	if wb.ImageB64 != "" {
		img, err := base64.StdEncoding.DecodeString(wb.ImageB64)
		if err != nil {
			return block, fmt.Errorf("decoding image: %w", err)
		}
		block.Image = img
	}
	if block.Kind == core.KindImage && len(block.Image) == 0 {
		return block, errors.New("image block without image data")
	}
	return block, nil
}
