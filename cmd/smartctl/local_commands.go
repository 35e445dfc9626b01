package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"smartcursor/internal/config"
	"smartcursor/internal/editor"
	"smartcursor/internal/imselect"
	"smartcursor/internal/ipc"
	"smartcursor/internal/rules"
)

var languageByExt = map[string]string{
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".cxx":  "cpp",
	".hpp":  "cpp",
	".js":   "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".py":   "python",
	".go":   "go",
	".java": "java",
	".rs":   "rust",
	".md":   "markdown",
}

// parsePosition parses a 1-based "line:col" into an editor position.
func parsePosition(s string) (editor.Position, error) {
	line, col, ok := strings.Cut(s, ":")
	if !ok {
		return editor.Position{}, fmt.Errorf("position %q: want line:col", s)
	}
	l, err := strconv.Atoi(line)
	if err != nil || l < 1 {
		return editor.Position{}, fmt.Errorf("position %q: bad line", s)
	}
	c, err := strconv.Atoi(col)
	if err != nil || c < 1 {
		return editor.Position{}, fmt.Errorf("position %q: bad column", s)
	}
	return editor.Position{Line: l - 1, Character: c - 1}, nil
}

func languageFor(path string) string {
	if id, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	return "plaintext"
}

// scanText classifies pos in text and writes the verdict to w.
func scanText(w io.Writer, cfg *config.Config, languageID, text string, pos editor.Position) rules.Verdict {
	buf := editor.NewBuffer("scan", languageID, text)
	v := rules.New(config.Static(cfg), nil, nil).Evaluate(editor.NewCursor(buf, pos))

	mode := config.ModeEnglish
	if v.Chinese {
		mode = config.ModeChinese
	}
	fmt.Fprintf(w, "Language: %s\n", languageID)
	fmt.Fprintf(w, "Position: %d:%d\n", pos.Line+1, pos.Character+1)
	fmt.Fprintf(w, "Mode:     %s\n", mode)
	fmt.Fprintf(w, "Reason:   %s\n", v.Reason)
	if v.Rule != nil {
		fmt.Fprintf(w, "Rule:     %s -> %s", v.Rule.Pattern, v.Rule.Mode)
		if v.Rule.Description != "" {
			fmt.Fprintf(w, " (%s)", v.Rule.Description)
		}
		fmt.Fprintln(w)
	}
	if v.Scan != nil && v.Scan.Any() {
		fmt.Fprintf(w, "Scanner:  %+v\n", *v.Scan)
	}
	return v
}

func cmdScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	lang := fs.String("lang", "", "language identifier (default: from the file extension)")
	fs.Parse(args)

	if fs.NArg() < 2 {
		return errors.New("usage: smartctl scan [-lang id] <file> <line:col>")
	}
	path := fs.Arg(0)
	pos, err := parsePosition(fs.Arg(1))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	languageID := *lang
	if languageID == "" {
		languageID = languageFor(path)
	}
	scanText(os.Stdout, cfg, languageID, string(data), pos)
	return nil
}

// querier is the read half of a switcher. The daemon client and a local
// backend both provide it.
type querier interface {
	Query(ctx context.Context) (string, error)
}

type daemonQuerier struct {
	client *ipc.IPCClient
}

func (q daemonQuerier) Query(context.Context) (string, error) {
	resp, err := q.client.QueryIME()
	if err != nil {
		return "", err
	}
	return resp.Code, nil
}

// detectCodes walks the user through switching to each input method and
// records what q reports for it.
func detectCodes(in io.Reader, out io.Writer, q querier) (english, chinese string, err error) {
	r := bufio.NewReader(in)

	ask := func(prompt string) (string, error) {
		fmt.Fprintf(out, "%s, then press Enter: ", prompt)
		if _, err := r.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		code, err := q.Query(ctx)
		if err != nil {
			return "", fmt.Errorf("query input method: %w", err)
		}
		if code == "" {
			return "", errors.New("query input method: empty result")
		}
		fmt.Fprintf(out, "  detected %s\n", code)
		return code, nil
	}

	if english, err = ask("Switch to your English input method"); err != nil {
		return "", "", err
	}
	if chinese, err = ask("Switch to your Chinese input method"); err != nil {
		return "", "", err
	}
	if english == chinese {
		return "", "", fmt.Errorf("both input methods reported %s; switch between them and retry", english)
	}
	return english, chinese, nil
}

func cmdDetect(args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	local := fs.Bool("local", false, "query the input method directly instead of through the daemon")
	fs.Parse(args)

	var q querier
	if *local {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sw, err := imselect.New(cfg, config.InstallRoot())
		if err != nil {
			return err
		}
		if c, ok := sw.(io.Closer); ok {
			defer c.Close()
		}
		q = sw
	} else {
		client, err := connect()
		if err != nil {
			return fmt.Errorf("%w; use -local to query without the daemon", err)
		}
		defer client.Close()
		q = daemonQuerier{client: client}
	}

	english, chinese, err := detectCodes(os.Stdin, os.Stdout, q)
	if err != nil {
		return err
	}

	path := resolvedConfigPath()
	if _, err := config.SetIMECodes(path, english, chinese); err != nil {
		return fmt.Errorf("save codes: %w", err)
	}
	fmt.Printf("Saved english_code=%s chinese_code=%s to %s\n", english, chinese, path)
	return nil
}

// importVSCode merges editor settings into the config file at path.
func importVSCode(settingsPath, path string) ([]string, error) {
	base, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, unknown, err := config.ImportVSCodeFile(settingsPath, base)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := config.SaveConfig(cfg, path); err != nil {
		return nil, err
	}
	return unknown, nil
}

func cmdImportVSCode(settingsPath string) error {
	path := resolvedConfigPath()
	unknown, err := importVSCode(settingsPath, path)
	if err != nil {
		return err
	}
	for _, k := range unknown {
		fmt.Fprintf(os.Stderr, "Warning: ignored %s\n", k)
	}
	fmt.Printf("Imported %s into %s\n", settingsPath, path)
	return nil
}
