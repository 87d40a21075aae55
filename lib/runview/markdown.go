// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runview

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// summaryParser is initialized once and reused. The parser
// configuration never changes and the goldmark Parser is safe to
// share; each Parse call creates its own state.
var (
	summaryParser     goldmark.Markdown
	summaryParserOnce sync.Once
)

func getSummaryParser() goldmark.Markdown {
	summaryParserOnce.Do(func() {
		summaryParser = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return summaryParser
}

// Markdown renders a step summary as terminal text wrapped to the
// given width. Soft line breaks within paragraphs become spaces so
// hard-wrapped source reflows at any terminal width; code blocks,
// lists, and tables keep their structure. Color follows the styler:
// a styler built for a non-terminal destination produces plain text
// and skips syntax highlighting entirely.
func (s *Styler) Markdown(input string, width int) string {
	if input == "" {
		return ""
	}
	source := []byte(input)
	document := getSummaryParser().Parser().Parse(text.NewReader(source))

	writer := &markdownWriter{
		source: source,
		styler: s,
		width:  width,
	}
	ast.Walk(document, writer.walk)

	return strings.TrimRight(writer.out.String(), "\n")
}

// markdownWriter walks a goldmark AST and emits styled terminal text.
// It walks the tree directly instead of registering with goldmark's
// renderer interface: paragraph content has to accumulate in a buffer
// and word-wrap as a unit when the paragraph closes, which does not
// map onto goldmark's streaming callbacks.
type markdownWriter struct {
	source []byte
	styler *Styler
	width  int

	// Rendered output.
	out strings.Builder

	// Span buffer: styled inline fragments of the current paragraph,
	// heading, or list item, flushed with word-wrap when the
	// enclosing block closes.
	span strings.Builder

	// Prefix state for nested containers (blockquotes, list items).
	// prefix is the concatenation of the stack's texts; prefixWidth
	// the sum of their visible widths.
	stack       []prefixEntry
	prefix      string
	prefixWidth int

	// bullet replaces the prefix on the next emitted line only. Set
	// when a list item opens so its first line carries the marker.
	bullet string

	// Nesting counters for inline styles. Counters rather than flags
	// so nested emphasis unwinds correctly.
	bold   int
	italic int
	strike int

	// Open lists, innermost last.
	lists []listEntry

	// Trailing newline count at the end of out, for blank line
	// management between blocks.
	trailing int
}

type prefixEntry struct {
	text  string
	width int
}

type listEntry struct {
	ordered bool
	next    int
	tight   bool
}

func (w *markdownWriter) style() lipgloss.Style {
	return w.styler.renderer.NewStyle()
}

func (w *markdownWriter) theme() Theme {
	return w.styler.theme
}

// contentWidth is the wrap width after subtracting nesting prefixes,
// clamped so deep nesting cannot degenerate into one-word lines.
func (w *markdownWriter) contentWidth() int {
	width := w.width - w.prefixWidth
	if width < 10 {
		width = 10
	}
	return width
}

func (w *markdownWriter) pushPrefix(text string, width int) {
	w.stack = append(w.stack, prefixEntry{text: text, width: width})
	w.prefix += text
	w.prefixWidth += width
}

func (w *markdownWriter) popPrefix() {
	if len(w.stack) == 0 {
		return
	}
	top := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	w.prefix = w.prefix[:len(w.prefix)-len(top.text)]
	w.prefixWidth -= top.width
}

func (w *markdownWriter) inTightList() bool {
	if len(w.lists) == 0 {
		return false
	}
	return w.lists[len(w.lists)-1].tight
}

// write appends text to the output, tracking trailing newlines.
func (w *markdownWriter) write(text string) {
	if text == "" {
		return
	}
	w.out.WriteString(text)

	count := 0
	onlyNewlines := true
	for index := len(text) - 1; index >= 0; index-- {
		if text[index] != '\n' {
			onlyNewlines = false
			break
		}
		count++
	}
	if onlyNewlines {
		w.trailing += count
	} else {
		w.trailing = count
	}
}

func (w *markdownWriter) endLine() {
	if w.trailing < 1 {
		w.write("\n")
	}
}

func (w *markdownWriter) blankLine() {
	for w.trailing < 2 {
		w.write("\n")
	}
}

// takePrefix returns the prefix for the line about to be emitted: the
// pending bullet exactly once after a list item opens, the regular
// prefix otherwise.
func (w *markdownWriter) takePrefix() string {
	if w.bullet != "" {
		bullet := w.bullet
		w.bullet = ""
		return bullet
	}
	return w.prefix
}

// prefixed prepends line prefixes to every line of content. The first
// line consumes the pending bullet if one is set.
func (w *markdownWriter) prefixed(content string) string {
	lines := strings.Split(content, "\n")
	var result strings.Builder
	for index, line := range lines {
		if index == 0 {
			result.WriteString(w.takePrefix())
		} else {
			result.WriteString(w.prefix)
		}
		result.WriteString(line)
		if index < len(lines)-1 {
			result.WriteString("\n")
		}
	}
	return result.String()
}

// flushSpan word-wraps the accumulated span, applies prefixes, and
// resets the buffer.
func (w *markdownWriter) flushSpan() string {
	content := w.span.String()
	w.span.Reset()
	if content == "" {
		return ""
	}
	wrapped := ansi.Wrap(content, w.contentWidth(), " ,.;-+|")
	return w.prefixed(wrapped)
}

// styled applies the current inline style state to a text fragment.
func (w *markdownWriter) styled(content string) string {
	style := w.style().Foreground(w.theme().NormalText)
	if w.bold > 0 {
		style = style.Bold(true)
	}
	if w.italic > 0 {
		style = style.Italic(true)
	}
	if w.strike > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

// childText renders a node's children into a string, saving and
// restoring the span buffer and style counters around the walk so the
// caller's state is untouched. Used for link text, image alt text,
// and table cells.
func (w *markdownWriter) childText(node ast.Node) string {
	savedSpan := w.span.String()
	savedBold, savedItalic, savedStrike := w.bold, w.italic, w.strike

	w.span.Reset()
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, w.walk)
	}
	result := w.span.String()

	w.span.Reset()
	w.span.WriteString(savedSpan)
	w.bold, w.italic, w.strike = savedBold, savedItalic, savedStrike

	return result
}

// highlight syntax-highlights code with Chroma. Plain-text stylers
// skip highlighting (Chroma emits ANSI unconditionally, bypassing the
// styler's profile). Unknown languages and Chroma errors fall back to
// faint-styled text.
func (w *markdownWriter) highlight(code, language string) string {
	if !w.styler.Colored() {
		return code
	}
	if language == "" {
		return w.style().Foreground(w.theme().FaintText).Render(code)
	}
	return w.styler.Code(code, language)
}

// --- AST walk dispatcher ---

func (w *markdownWriter) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {

	// Block nodes.
	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			w.span.Reset()
		} else if flushed := w.flushSpan(); flushed != "" {
			w.write(flushed)
			w.endLine()
			if !w.inTightList() {
				w.blankLine()
			}
		}

	case ast.KindHeading:
		if entering {
			w.span.Reset()
		} else {
			w.endHeading(node.(*ast.Heading))
		}

	case ast.KindFencedCodeBlock:
		if entering {
			block := node.(*ast.FencedCodeBlock)
			w.codeLines(blockText(block, w.source), string(block.Language(w.source)))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			w.codeLines(blockText(node, w.source), "")
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			w.pushPrefix("│ ", 2)
		} else {
			w.popPrefix()
			w.blankLine()
		}

	case ast.KindList:
		if entering {
			w.startList(node.(*ast.List))
		} else {
			w.endList()
		}

	case ast.KindListItem:
		if entering {
			w.startItem()
		} else {
			w.endItem()
		}

	case ast.KindThematicBreak:
		if entering {
			w.rule()
		}

	case ast.KindHTMLBlock:
		if entering {
			w.htmlBlock(node.(*ast.HTMLBlock))
			return ast.WalkSkipChildren, nil
		}

	// Inline nodes.
	case ast.KindText:
		if entering {
			w.text(node.(*ast.Text))
		}

	case ast.KindString:
		if entering {
			w.span.WriteString(w.styled(string(node.(*ast.String).Value)))
		}

	case ast.KindEmphasis:
		w.emphasis(node.(*ast.Emphasis), entering)

	case ast.KindCodeSpan:
		if entering {
			w.codeSpan(node)
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if entering {
			w.link(node.(*ast.Link))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindAutoLink:
		if entering {
			url := string(node.(*ast.AutoLink).URL(w.source))
			w.span.WriteString(w.style().Foreground(w.theme().FaintText).Render(url))
		}

	case ast.KindImage:
		if entering {
			w.image(node.(*ast.Image))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindRawHTML:
		if entering {
			w.rawHTML(node.(*ast.RawHTML))
		}

	// GFM extension nodes.
	case extast.KindStrikethrough:
		if entering {
			w.strike++
		} else {
			w.strike--
		}

	case extast.KindTable:
		if entering {
			w.table(node.(*extast.Table))
			return ast.WalkSkipChildren, nil
		}

	case extast.KindTaskCheckBox:
		if entering {
			if node.(*extast.TaskCheckBox).IsChecked {
				checked := w.style().Foreground(w.theme().Success)
				w.span.WriteString(checked.Render("[x]") + " ")
			} else {
				w.span.WriteString(w.styled("[ ] "))
			}
		}
	}

	return ast.WalkContinue, nil
}

// --- Block handlers ---

func (w *markdownWriter) endHeading(heading *ast.Heading) {
	// Strip inline styling accumulated by styled(): the heading style
	// replaces it wholesale.
	content := ansi.Strip(w.span.String())
	w.span.Reset()
	if content == "" {
		return
	}

	style := w.style().Bold(true)
	if heading.Level <= 2 {
		style = style.Foreground(w.theme().Heading)
	} else {
		style = style.Foreground(w.theme().NormalText)
	}

	wrapped := ansi.Wrap(style.Render(content), w.contentWidth(), " ,.;-+|")
	w.blankLine()
	w.write(w.prefixed(wrapped))
	w.endLine()
	w.blankLine()
}

// blockText collects the literal lines of a code or HTML block.
func blockText(node ast.Node, source []byte) string {
	var content strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		content.Write(segment.Value(source))
	}
	return content.String()
}

// codeLines emits a code block line by line, bypassing word-wrap so
// the code's own line structure survives.
func (w *markdownWriter) codeLines(code, language string) {
	highlighted := w.highlight(code, language)
	w.blankLine()
	for _, line := range strings.Split(strings.TrimRight(highlighted, "\n"), "\n") {
		w.write(w.takePrefix() + line)
		w.endLine()
	}
	w.blankLine()
}

func (w *markdownWriter) startList(list *ast.List) {
	next := 0
	if list.IsOrdered() {
		next = list.Start
	}
	w.lists = append(w.lists, listEntry{
		ordered: list.IsOrdered(),
		next:    next,
		tight:   list.IsTight,
	})
}

func (w *markdownWriter) endList() {
	if len(w.lists) > 0 {
		w.lists = w.lists[:len(w.lists)-1]
	}
	if !w.inTightList() {
		w.blankLine()
	}
}

func (w *markdownWriter) startItem() {
	if len(w.lists) == 0 {
		return
	}
	top := &w.lists[len(w.lists)-1]

	var marker string
	if top.ordered {
		marker = fmt.Sprintf("%d. ", top.next)
		top.next++
	} else {
		marker = "• "
	}
	markerWidth := lipgloss.Width(marker)

	// The pending bullet carries the full current prefix so it
	// replaces the whole line prefix on the item's first line.
	w.bullet = w.prefix + marker
	w.pushPrefix(strings.Repeat(" ", markerWidth), markerWidth)
}

func (w *markdownWriter) endItem() {
	w.popPrefix()
	if w.inTightList() {
		w.endLine()
	} else {
		w.blankLine()
	}
}

func (w *markdownWriter) rule() {
	line := strings.Repeat("─", w.contentWidth())
	styled := w.style().Foreground(w.theme().Border).Render(line)
	w.blankLine()
	w.write(w.prefixed(styled))
	w.endLine()
	w.blankLine()
}

// htmlBlock emits HTML source verbatim in faint style. Summaries are
// written by build steps for terminal display, so HTML is shown as
// text rather than interpreted.
func (w *markdownWriter) htmlBlock(node *ast.HTMLBlock) {
	content := strings.TrimRight(blockText(node, w.source), "\n")
	if content == "" {
		return
	}
	faint := w.style().Foreground(w.theme().FaintText)
	for _, line := range strings.Split(content, "\n") {
		w.write(w.takePrefix() + faint.Render(line))
		w.endLine()
	}
	w.blankLine()
}

// --- Inline handlers ---

func (w *markdownWriter) text(node *ast.Text) {
	w.span.WriteString(w.styled(string(node.Segment.Value(w.source))))

	if node.SoftLineBreak() {
		// Soft breaks become spaces so hard-wrapped source reflows
		// at the terminal's width.
		w.span.WriteString(" ")
	}
	if node.HardLineBreak() {
		w.span.WriteString("\n")
	}
}

func (w *markdownWriter) emphasis(node *ast.Emphasis, entering bool) {
	counter := &w.italic
	if node.Level >= 2 {
		counter = &w.bold
	}
	if entering {
		*counter++
	} else {
		*counter--
	}
}

func (w *markdownWriter) codeSpan(node ast.Node) {
	var code strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch typed := child.(type) {
		case *ast.Text:
			code.Write(typed.Segment.Value(w.source))
		case *ast.String:
			code.Write(typed.Value)
		}
	}
	faint := w.style().Foreground(w.theme().FaintText)
	w.span.WriteString(faint.Render(code.String()))
}

func (w *markdownWriter) link(node *ast.Link) {
	// childText already applies inline styling to the link text.
	display := w.childText(node)
	w.span.WriteString(display)
	if url := string(node.Destination); url != "" {
		faint := w.style().Foreground(w.theme().FaintText)
		w.span.WriteString(" " + faint.Render("("+url+")"))
	}
}

func (w *markdownWriter) image(node *ast.Image) {
	alt := w.childText(node)
	faint := w.style().Foreground(w.theme().FaintText)
	w.span.WriteString(faint.Render("[" + alt + "]"))
	if url := string(node.Destination); url != "" {
		w.span.WriteString(" " + faint.Render("("+url+")"))
	}
}

func (w *markdownWriter) rawHTML(node *ast.RawHTML) {
	var html strings.Builder
	for index := 0; index < node.Segments.Len(); index++ {
		segment := node.Segments.At(index)
		html.Write(segment.Value(w.source))
	}
	faint := w.style().Foreground(w.theme().FaintText)
	w.span.WriteString(faint.Render(html.String()))
}

// --- Tables ---

func (w *markdownWriter) table(table *extast.Table) {
	var header []string
	var rows [][]string
	for child := table.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.Kind() {
		case extast.KindTableHeader:
			header = w.rowCells(child)
		case extast.KindTableRow:
			rows = append(rows, w.rowCells(child))
		}
	}

	columns := len(header)
	if columns == 0 && len(rows) > 0 {
		columns = len(rows[0])
	}
	if columns == 0 {
		return
	}

	// Natural column widths from visible cell content, capped to an
	// even share of the available width when the table overflows.
	widths := make([]int, columns)
	measure := func(cells []string) {
		for index, cell := range cells {
			if index < columns && lipgloss.Width(cell) > widths[index] {
				widths[index] = lipgloss.Width(cell)
			}
		}
	}
	measure(header)
	for _, row := range rows {
		measure(row)
	}

	const gap = "  "
	total := len(gap) * (columns - 1)
	for _, width := range widths {
		total += width
	}
	if available := w.contentWidth(); total > available {
		share := (available - len(gap)*(columns-1)) / columns
		if share < 3 {
			share = 3
		}
		for index := range widths {
			if widths[index] > share {
				widths[index] = share
			}
		}
	}

	w.blankLine()
	if len(header) > 0 {
		bold := w.style().Bold(true).Foreground(w.theme().NormalText)
		w.write(w.takePrefix() + w.tableRow(header, widths, table.Alignments, bold))
		w.endLine()

		divider := make([]string, columns)
		for index, width := range widths {
			divider[index] = strings.Repeat("─", width)
		}
		border := w.style().Foreground(w.theme().Border)
		w.write(w.prefix + border.Render(strings.Join(divider, gap)))
		w.endLine()
	}
	for _, row := range rows {
		w.write(w.prefix + w.tableRow(row, widths, table.Alignments, w.style()))
		w.endLine()
	}
	w.blankLine()
}

func (w *markdownWriter) rowCells(row ast.Node) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if cell.Kind() == extast.KindTableCell {
			cells = append(cells, w.childText(cell))
		}
	}
	return cells
}

func (w *markdownWriter) tableRow(
	cells []string,
	widths []int,
	alignments []extast.Alignment,
	base lipgloss.Style,
) string {
	parts := make([]string, len(widths))
	for index, width := range widths {
		var cell string
		if index < len(cells) {
			cell = cells[index]
		}
		visible := lipgloss.Width(cell)
		if visible > width {
			cell = ansi.Truncate(cell, width, "…")
			visible = lipgloss.Width(cell)
		}
		pad := width - visible
		if pad < 0 {
			pad = 0
		}

		var alignment extast.Alignment
		if index < len(alignments) {
			alignment = alignments[index]
		}
		switch alignment {
		case extast.AlignRight:
			cell = strings.Repeat(" ", pad) + cell
		case extast.AlignCenter:
			left := pad / 2
			cell = strings.Repeat(" ", left) + cell + strings.Repeat(" ", pad-left)
		default:
			cell += strings.Repeat(" ", pad)
		}
		parts[index] = cell
	}
	return base.Render(strings.Join(parts, "  "))
}
