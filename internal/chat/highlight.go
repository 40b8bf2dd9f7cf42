package chat

import (
	"bytes"
	"os"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
)

const chromaStyleName = "dracula"

// highlightCodeBlocks colors the body of every closed ``` or ~~~ fence in a
// message. Fence lines are kept so the block still reads as code.
func highlightCodeBlocks(body string) string {
	if body == "" || os.Getenv("NO_COLOR") != "" || !strings.ContainsAny(body, "`~") {
		return body
	}

	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		fence, lang, ok := parseFence(lines[i])
		if !ok {
			out = append(out, lines[i])
			continue
		}
		end := findClosingFence(lines, i+1, fence)
		if end == -1 {
			out = append(out, lines[i])
			continue
		}
		out = append(out, lines[i])
		if code := strings.Join(lines[i+1:end], "\n"); code != "" {
			out = append(out, highlightCode(code, lang))
		}
		out = append(out, lines[end])
		i = end
	}
	return strings.Join(out, "\n")
}

// parseFence returns the fence marker and language of an opening fence line.
func parseFence(line string) (string, string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if len(trimmed) < 3 || (trimmed[0] != '`' && trimmed[0] != '~') {
		return "", "", false
	}
	count := 0
	for count < len(trimmed) && trimmed[count] == trimmed[0] {
		count++
	}
	if count < 3 {
		return "", "", false
	}
	lang := ""
	if fields := strings.Fields(trimmed[count:]); len(fields) > 0 {
		lang = fields[0]
	}
	return trimmed[:count], lang, true
}

func findClosingFence(lines []string, start int, fence string) int {
	for i := start; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if len(trimmed) >= len(fence) && strings.Trim(trimmed, fence[:1]) == "" {
			return i
		}
	}
	return -1
}

func highlightCode(code, lang string) string {
	lexer := resolveLexer(code, lang)
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	style := styles.Get(chromaStyleName)
	if style == nil {
		style = styles.Fallback
	}
	var buf bytes.Buffer
	if err := formatters.TTY256.Format(&buf, style, iterator); err != nil {
		return code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func resolveLexer(code, lang string) chroma.Lexer {
	var lexer chroma.Lexer
	if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}
