package services

import (
	"bytes"
	_ "embed"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"
	"unicode"

	"github.com/jung-kurt/gofpdf"

	"custody_backend/storage"
)

const (
	noDataText      = "No data"
	noSignatureText = "No signature"
	emptyFieldText  = "—"

	fontFamily = "DejaVu"
)

// Шрифты с кириллицей и латиницей, core-шрифты PDF покрывают только cp1252
var (
	//go:embed fonts/DejaVuSansCondensed.ttf
	fontRegular []byte
	//go:embed fonts/DejaVuSansCondensed-Bold.ttf
	fontBold []byte
	//go:embed fonts/DejaVuSansCondensed-Oblique.ttf
	fontItalic []byte
)

// DocumentRenderer превращает снимок акта в документ. Не знает о хранилищах и транзакциях.
type DocumentRenderer interface {
	Render(payload *DocumentPayload, giverSignature, receiverSignature *storage.Image) ([]byte, error)
}

// PDFRenderer рендер акта в PDF через gofpdf
type PDFRenderer struct {
	// Compress сжимает потоки страниц, в тестах отключается для поиска текста
	Compress bool
}

// NewPDFRenderer создает рендер со сжатием
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{Compress: true}
}

// Render генерирует PDF акта приема-передачи
func (r *PDFRenderer) Render(payload *DocumentPayload, giverSignature, receiverSignature *storage.Image) ([]byte, error) {
	if payload == nil {
		return nil, fmt.Errorf("снимок акта не задан")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.Compress)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddUTF8FontFromBytes(fontFamily, "", fontRegular)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", fontBold)
	pdf.AddUTF8FontFromBytes(fontFamily, "I", fontItalic)
	text := sanitizeText

	pdf.SetTitle(text(payload.Title()), true)
	pdf.SetCreator("custody_backend", false)
	pdf.AddPage()

	// Заголовок
	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 10, text(payload.Title()), "", 1, "C", false, 0, "")
	pdf.SetFont(fontFamily, "", 10)
	pdf.CellFormat(0, 6, text(fmt.Sprintf("No. %d", payload.BatchID)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.CellFormat(90, 6, text("Date: "+orDash(payload.Date)), "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, text("Location: "+orDash(payload.Location)), "", 1, "R", false, 0, "")
	pdf.CellFormat(0, 6, text("Giver: "+orDash(payload.Giver.Name)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, text("Receiver: "+orDash(payload.Receiver.Name)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	// Общий перечень
	section(pdf, text("Devices"))
	devices := newPDFTable(pdf, text,
		[]string{"#", "Asset tag", "Type", "Description", "Qty", "Condition", "Custom flags"},
		[]float64{8, 25, 25, 35, 12, 40, 35})
	devices.header()
	if len(payload.Items) == 0 {
		devices.emptyRow()
	}
	for i, item := range payload.Items {
		devices.row([]string{
			strconv.Itoa(i + 1), item.AssetTag, string(item.Type), orDash(item.Description),
			item.Quantity, item.Condition, item.CustomFlags,
		})
	}
	pdf.Ln(4)

	// Терминалы
	section(pdf, text("PDA"))
	pdas := newPDFTable(pdf, text,
		[]string{"#", "Asset tag", "SIM card", "Phone number", "Qty", "Condition"},
		[]float64{8, 30, 30, 32, 12, 68})
	pdas.header()
	if len(payload.PDAs) == 0 {
		pdas.emptyRow()
	}
	for i, item := range payload.PDAs {
		pdas.row([]string{
			strconv.Itoa(i + 1), item.AssetTag, orDash(item.SimCardID), orDash(item.PhoneNumber),
			item.Quantity, item.Condition,
		})
	}
	pdf.Ln(4)

	// Принтеры
	section(pdf, text("Mobile printers"))
	printers := newPDFTable(pdf, text,
		[]string{"#", "Asset tag", "Description", "Qty", "Condition"},
		[]float64{8, 30, 50, 12, 80})
	printers.header()
	if len(payload.Printers) == 0 {
		printers.emptyRow()
	}
	for i, item := range payload.Printers {
		printers.row([]string{
			strconv.Itoa(i + 1), item.AssetTag, orDash(item.Description), item.Quantity, item.Condition,
		})
	}
	pdf.Ln(4)

	section(pdf, text("Notes"))
	pdf.SetFont(fontFamily, "", 10)
	pdf.MultiCell(0, 5, text(orDash(payload.Notes)), "", "L", false)
	pdf.Ln(6)

	// Подписи
	if pdf.GetY() > 230 {
		pdf.AddPage()
	}
	y := pdf.GetY()
	signatureBlock(pdf, text, "sig-giver", 15, y, "Giver", payload.Giver.Name, giverSignature)
	signatureBlock(pdf, text, "sig-receiver", 110, y, "Receiver", payload.Receiver.Name, receiverSignature)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("ошибка формирования PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("ошибка формирования PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func section(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont(fontFamily, "B", 12)
	pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
}

// signatureBlock рисует подпись стороны или заглушку, если изображения нет
func signatureBlock(pdf *gofpdf.Fpdf, text func(string) string, name string, x, y float64, label, person string, sig *storage.Image) {
	const w, h = 85.0, 30.0

	pdf.SetXY(x, y)
	pdf.SetFont(fontFamily, "B", 10)
	pdf.CellFormat(w, 6, text(label+": "+orDash(person)), "", 2, "L", false, 0, "")
	boxY := pdf.GetY()
	pdf.Rect(x, boxY, w, h, "D")

	if data := normalizeSignature(sig); data != nil {
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
		pdf.ImageOptions(name, x+2, boxY+2, 0, h-4, false, opts, 0, "")
		return
	}

	pdf.SetXY(x, boxY+h/2-3)
	pdf.SetFont(fontFamily, "I", 10)
	pdf.CellFormat(w, 6, text(noSignatureText), "", 0, "C", false, 0, "")
}

// normalizeSignature перекодирует подпись в 8-битный PNG, который gofpdf читает без ошибок
func normalizeSignature(sig *storage.Image) []byte {
	if sig == nil || len(sig.Data) == 0 {
		return nil
	}
	// подписи из хранилища проверяются повторно до полного декодирования
	if storage.CheckImageBounds(sig.Data) != nil {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(sig.Data))
	if err != nil {
		return nil
	}

	bounds := img.Bounds()
	rgba := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil
	}
	return buf.Bytes()
}

// pdfTable таблица с переносом строк в ячейках
type pdfTable struct {
	pdf     *gofpdf.Fpdf
	text    func(string) string
	headers []string
	widths  []float64
}

func newPDFTable(pdf *gofpdf.Fpdf, text func(string) string, headers []string, widths []float64) *pdfTable {
	return &pdfTable{pdf: pdf, text: text, headers: headers, widths: widths}
}

func (t *pdfTable) header() {
	t.pdf.SetFont(fontFamily, "B", 9)
	t.pdf.SetFillColor(230, 230, 230)
	for i, h := range t.headers {
		t.pdf.CellFormat(t.widths[i], 7, t.text(h), "1", 0, "C", true, 0, "")
	}
	t.pdf.Ln(-1)
}

func (t *pdfTable) emptyRow() {
	total := 0.0
	for _, w := range t.widths {
		total += w
	}
	t.pdf.SetFont(fontFamily, "I", 9)
	t.pdf.CellFormat(total, 7, t.text(noDataText), "1", 1, "C", false, 0, "")
}

func (t *pdfTable) row(cells []string) {
	const lineHeight = 5.0
	t.pdf.SetFont(fontFamily, "", 9)

	translated := make([]string, len(cells))
	maxLines := 1
	for i, c := range cells {
		translated[i] = t.text(c)
		if n := len(t.pdf.SplitText(translated[i], t.widths[i]-2)); n > maxLines {
			maxLines = n
		}
	}
	height := float64(maxLines) * lineHeight

	_, pageHeight := t.pdf.GetPageSize()
	_, _, _, bottom := t.pdf.GetMargins()
	if t.pdf.GetY()+height > pageHeight-bottom {
		t.pdf.AddPage()
		t.header()
		t.pdf.SetFont(fontFamily, "", 9)
	}

	left, _, _, _ := t.pdf.GetMargins()
	x, y := left, t.pdf.GetY()
	for i, c := range translated {
		t.pdf.Rect(x, y, t.widths[i], height, "D")
		t.pdf.SetXY(x, y)
		t.pdf.MultiCell(t.widths[i], lineHeight, c, "", "L", false)
		x += t.widths[i]
	}
	t.pdf.SetXY(left, y+height)
}

// sanitizeText убирает управляющие символы из пользовательского текста
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyFieldText
	}
	return s
}
