package cmdguard

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// word is one shell word. Literal is false when the word contains an
// expansion whose value cannot be known before execution. Pattern is set when
// an unquoted part holds glob or brace characters the shell may expand.
type word struct {
	Value   string
	Literal bool
	Pattern bool
}

// commandWords holds the words of a simple command: the call's arguments
// (command name first) and the other words that may name files, such as
// redirect targets and assignment values.
type commandWords struct {
	Args  []word
	Other []word
}

// splitWords extracts the words of a single simple command. Input the parser
// rejects, or anything other than one simple command, falls back to a
// whitespace split.
func splitWords(command string) commandWords {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil || len(file.Stmts) != 1 {
		return fieldsFallback(command)
	}
	stmt := file.Stmts[0]
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok && stmt.Cmd != nil {
		return fieldsFallback(command)
	}

	var cw commandWords
	if call != nil {
		for _, a := range call.Assigns {
			if a.Value != nil {
				cw.Other = append(cw.Other, wordOf(a.Value))
			}
		}
		for _, w := range call.Args {
			cw.Args = append(cw.Args, wordOf(w))
		}
	}
	for _, r := range stmt.Redirs {
		if r.Word != nil {
			cw.Other = append(cw.Other, wordOf(r.Word))
		}
	}
	return cw
}

func fieldsFallback(command string) commandWords {
	var cw commandWords
	for _, f := range strings.Fields(command) {
		cw.Args = append(cw.Args, word{
			Value:   stripQuoting(f),
			Literal: !strings.ContainsAny(f, "$`"),
			Pattern: strings.ContainsAny(f, patternChars),
		})
	}
	return cw
}

func wordOf(w *syntax.Word) word {
	var b strings.Builder
	literal := appendParts(&b, w.Parts, false)
	pattern := false
	for _, part := range w.Parts {
		if lit, ok := part.(*syntax.Lit); ok && strings.ContainsAny(lit.Value, patternChars) {
			pattern = true
		}
	}
	return word{Value: b.String(), Literal: literal, Pattern: pattern}
}

const patternChars = "*?[{"

// appendParts writes the value the shell would see for parts. Lit values are
// raw source text, so backslash escapes are removed here.
func appendParts(b *strings.Builder, parts []syntax.WordPart, quoted bool) bool {
	literal := true
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(unescape(p.Value, quoted))
		case *syntax.SglQuoted:
			// $'...' decodes escapes at run time.
			if p.Dollar {
				literal = false
			}
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			if !appendParts(b, p.Parts, true) {
				literal = false
			}
		default:
			literal = false
		}
	}
	return literal
}

// unescape removes backslash escapes. Inside double quotes a backslash only
// escapes $, `, ", \ and newline.
func unescape(s string, quoted bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		next := s[i+1]
		if quoted && !strings.ContainsRune("$`\"\\\n", rune(next)) {
			b.WriteByte(s[i])
			continue
		}
		i++
		if next != '\n' {
			b.WriteByte(next)
		}
	}
	return b.String()
}

// stripQuoting drops quote characters and backslashes from a word the parser
// could not read. The result only needs to be good enough for matching.
func stripQuoting(s string) string {
	return strings.NewReplacer(`\`, "", `"`, "", "'", "").Replace(s)
}
