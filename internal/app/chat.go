package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sweetmill/sweetmill/internal/agent"
)

const chatGreeting = `Аналитический помощник готов. Задайте вопрос о закупках, продажах,
номенклатуре или клиентах. Команды: /tools, /audit, /clear, /exit.`

// Chat runs the interactive conversation loop, reading one question per line
// from in and writing answers to out. Returns when in is exhausted, the user
// types /exit, or ctx is cancelled.
func (a *App) Chat(ctx context.Context, in io.Reader, out io.Writer) error {
	if a.metrics != nil {
		a.metrics.ActiveSessions.Add(ctx, 1)
		defer a.metrics.ActiveSessions.Add(ctx, -1)
	}

	sess := agent.NewSession()
	fmt.Fprintln(out, chatGreeting)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done := a.handleCommand(out, sess, line); done {
				return nil
			}
			continue
		}

		answer, err := a.orchestrator.Ask(ctx, sess, line)
		if err != nil {
			a.log.Error("conversation turn failed", "error", err)
			fmt.Fprintln(out, "Не удалось получить ответ, попробуйте ещё раз.")
			continue
		}
		fmt.Fprintln(out, answer)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("app: read input: %w", err)
	}
	return nil
}

// handleCommand executes a slash command. Returns true when the loop should
// terminate.
func (a *App) handleCommand(out io.Writer, sess *agent.Session, cmd string) bool {
	switch cmd {
	case "/exit", "/quit":
		fmt.Fprintln(out, "До встречи!")
		return true

	case "/clear":
		sess.Reset()
		fmt.Fprintln(out, "История диалога очищена.")

	case "/tools":
		for _, def := range a.dispatcher.Tools() {
			fmt.Fprintf(out, "  %-28s %s\n", def.Name, firstLine(def.Description))
		}

	case "/audit":
		entries := sess.Audit()
		if len(entries) == 0 {
			fmt.Fprintln(out, "Инструменты в этой сессии ещё не вызывались.")
			break
		}
		for _, e := range entries {
			fmt.Fprintf(out, "  %-28s %-8s %s\n", e.Tool, e.Status, e.Duration.Round(time.Millisecond))
		}

	default:
		fmt.Fprintf(out, "Неизвестная команда %q. Доступны: /tools, /audit, /clear, /exit.\n", cmd)
	}
	return false
}

// firstLine trims a multi-line tool description to its first line.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
