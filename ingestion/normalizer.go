package ingestion

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/veridoc/core"
)

// NormalizerOptions tunes paragraph merging and table detection.
type NormalizerOptions struct {
	// MaxChars bounds a merged chunk. Default: 1000
	MaxChars int

	// IndentTolerance is the maximum left-edge difference, in points,
	// for two blocks to belong to one paragraph. Default: 12
	IndentTolerance float32

	// MaxLineGap is the largest vertical gap allowed between merged blocks,
	// as a multiple of the previous block height. Default: 1.5
	MaxLineGap float32

	// TableRows is the number of consecutive row-like lines that make a
	// text chunk a table candidate. Default: 3
	TableRows int
}

// DefaultNormalizerOptions returns the default merge settings.
func DefaultNormalizerOptions() NormalizerOptions {
	return NormalizerOptions{
		MaxChars:        1000,
		IndentTolerance: 12,
		MaxLineGap:      1.5,
		TableRows:       3,
	}
}

func (o NormalizerOptions) withDefaults() NormalizerOptions {
	d := DefaultNormalizerOptions()
	if o.MaxChars <= 0 {
		o.MaxChars = d.MaxChars
	}
	if o.IndentTolerance <= 0 {
		o.IndentTolerance = d.IndentTolerance
	}
	if o.MaxLineGap <= 0 {
		o.MaxLineGap = d.MaxLineGap
	}
	if o.TableRows <= 0 {
		o.TableRows = d.TableRows
	}
	return o
}

var (
	// delimiterRun matches a column separator: two or more spaces, a tab, or a pipe.
	delimiterRun = regexp.MustCompile(`\s*\|\s*| {2,}|\t+`)
	numericToken = regexp.MustCompile(`[-+]?\d+(?:[.,]\d+)?`)
)

const terminalPunctuation = ".。!?！？:;：；"

// NormalizeBlocks merges raw layout blocks into ordered chunks.
// It is pure and deterministic: the same blocks always yield the same chunks.
func NormalizeBlocks(docID core.ID, blocks []core.Block, opts NormalizerOptions) []*core.Chunk {
	opts = opts.withDefaults()

	var (
		chunks  []*core.Chunk
		pending *paragraph
	)

	emit := func(page int, kind core.ContentKind, text string, image []byte, tableCandidate bool) {
		seq := len(chunks)
		chunks = append(chunks, &core.Chunk{
			Id:             core.ChunkID(docID, page, seq),
			DocumentID:     docID,
			Page:           page,
			Seq:            seq,
			Text:           text,
			Kind:           kind,
			Status:         core.ChunkPending,
			TableCandidate: tableCandidate,
			Image:          image,
		})
	}

	flush := func() {
		if pending == nil {
			return
		}
		text := pending.text()
		if isTableCandidate(text, opts.TableRows) {
			emit(pending.page, core.KindTable, text, nil, true)
		} else {
			emit(pending.page, core.KindText, text, nil, false)
		}
		pending = nil
	}

	for _, block := range blocks {
		if block.Kind != core.KindText {
			flush()
			text := strings.TrimSpace(block.Text)
			if block.Kind == core.KindTable && text == "" {
				continue
			}
			emit(block.Page, block.Kind, text, block.Image, false)
			continue
		}

		text := strings.TrimSpace(block.Text)
		if text == "" {
			continue
		}

		if pending != nil && pending.accepts(block, text, opts) {
			pending.add(block, text)
			continue
		}

		flush()
		pending = newParagraph(block, text)
	}
	flush()

	return chunks
}

// paragraph accumulates consecutive mergeable text blocks.
type paragraph struct {
	page  int
	first core.Box
	last  core.Box
	parts []string
	size  int
}

func newParagraph(block core.Block, text string) *paragraph {
	return &paragraph{
		page:  block.Page,
		first: block.Box,
		last:  block.Box,
		parts: []string{text},
		size:  utf8.RuneCountInString(text),
	}
}

func (p *paragraph) add(block core.Block, text string) {
	p.parts = append(p.parts, text)
	p.size += utf8.RuneCountInString(text) + 1
	p.last = block.Box
}

func (p *paragraph) text() string {
	return strings.Join(p.parts, "\n")
}

// accepts reports whether block continues the paragraph.
func (p *paragraph) accepts(block core.Block, text string, opts NormalizerOptions) bool {
	if block.Page != p.page {
		return false
	}
	if p.size+1+utf8.RuneCountInString(text) > opts.MaxChars {
		return false
	}

	prev := p.parts[len(p.parts)-1]
	lastRune, _ := utf8.DecodeLastRuneInString(prev)
	if strings.ContainsRune(terminalPunctuation, lastRune) {
		return false
	}

	if abs32(block.Box.X0-p.first.X0) > opts.IndentTolerance {
		return false
	}

	// Blocks without geometry are merged on text rules alone
	height := p.last.Height()
	if height > 0 {
		gap := block.Box.Y0 - p.last.Y1
		if gap > height*opts.MaxLineGap || gap < -height {
			return false
		}
	}
	return true
}

// isTableCandidate reports whether text has at least minRows consecutive
// lines that look like table rows.
func isTableCandidate(text string, minRows int) bool {
	delimited, numeric := 0, 0
	for _, line := range strings.Split(text, "\n") {
		if isDelimitedRow(line) {
			delimited++
		} else {
			delimited = 0
		}
		if isNumericRow(line) {
			numeric++
		} else {
			numeric = 0
		}
		if delimited >= minRows || numeric >= minRows {
			return true
		}
	}
	return false
}

// isDelimitedRow reports whether a line splits into at least three cells.
func isDelimitedRow(line string) bool {
	line = strings.Trim(line, " |")
	if line == "" {
		return false
	}
	return len(delimiterRun.FindAllStringIndex(line, -1)) >= 2
}

// isNumericRow reports whether a line carries at least three numeric tokens.
func isNumericRow(line string) bool {
	return len(numericToken.FindAllStringIndex(line, -1)) >= 3
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
