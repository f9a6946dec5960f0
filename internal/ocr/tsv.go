package ocr

import (
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// tesseract TSV columns
const (
	tsvLevel = iota
	tsvPage
	tsvBlock
	tsvPar
	tsvLine
	tsvWord
	tsvLeft
	tsvTop
	tsvWidth
	tsvHeight
	tsvConf
	tsvText
	tsvColumns
)

const (
	levelPage = 1
	levelWord = 5
)

type tsvDoc struct {
	text string
	page entity.OCRPage
	// mean word confidence in 0..1, 0 when no word carried a score
	confidence float64
	words      int
}

type lineKey struct{ block, par, line int }

// parseTSV folds tesseract word rows into one block per text line. Rows with conf -1
// are structural and carry no text.
func parseTSV(raw []byte, pageNumber int) tsvDoc {
	doc := tsvDoc{page: entity.OCRPage{PageNumber: pageNumber}}

	var (
		order   []lineKey
		lines   = map[lineKey]*lineAcc{}
		sum     float64
		scored  int
		rows    = strings.Split(string(raw), "\n")
	)
	for i, row := range rows {
		if i == 0 || row == "" {
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) < tsvColumns {
			continue
		}
		level := atoi(cols[tsvLevel])
		if level == levelPage {
			doc.page.Width = atoi(cols[tsvWidth])
			doc.page.Height = atoi(cols[tsvHeight])
			continue
		}
		if level != levelWord {
			continue
		}
		word := strings.TrimSpace(cols[tsvText])
		conf, err := strconv.ParseFloat(cols[tsvConf], 64)
		if err != nil || conf < 0 || word == "" {
			continue
		}
		sum += conf
		scored++

		k := lineKey{atoi(cols[tsvBlock]), atoi(cols[tsvPar]), atoi(cols[tsvLine])}
		acc, ok := lines[k]
		if !ok {
			acc = &lineAcc{}
			lines[k] = acc
			order = append(order, k)
		}
		acc.add(word, conf/100,
			atoi(cols[tsvLeft]), atoi(cols[tsvTop]), atoi(cols[tsvWidth]), atoi(cols[tsvHeight]))
	}

	var b strings.Builder
	for _, k := range order {
		blk := lines[k].block()
		doc.page.Blocks = append(doc.page.Blocks, blk)
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(blk.Text)
	}
	doc.text = b.String()
	doc.words = scored
	if scored > 0 {
		doc.confidence = clamp01(sum / float64(scored) / 100)
	}
	return doc
}

type lineAcc struct {
	words          []string
	confSum        float64
	x0, y0, x1, y1 int
}

func (a *lineAcc) add(word string, conf float64, left, top, width, height int) {
	if len(a.words) == 0 {
		a.x0, a.y0, a.x1, a.y1 = left, top, left+width, top+height
	} else {
		a.x0 = min(a.x0, left)
		a.y0 = min(a.y0, top)
		a.x1 = max(a.x1, left+width)
		a.y1 = max(a.y1, top+height)
	}
	a.words = append(a.words, word)
	a.confSum += conf
}

func (a *lineAcc) block() entity.OCRBlock {
	return entity.OCRBlock{
		Text:       strings.Join(a.words, " "),
		X:          a.x0,
		Y:          a.y0,
		Width:      a.x1 - a.x0,
		Height:     a.y1 - a.y0,
		Confidence: a.confSum / float64(len(a.words)),
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
