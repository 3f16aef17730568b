// Package admin реализует консоль администратора сервера мира.
package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownCommand возвращается для незарегистрированной команды
var ErrUnknownCommand = errors.New("неизвестная команда")

// CommandFunc is the signature for admin CLI command handlers.
type CommandFunc func(ctx context.Context, args []string) (string, error)

// CommandRegistration holds a single CLI command registration.
type CommandRegistration struct {
	Name        string
	Description string
	Handler     CommandFunc
}

// Registry хранит команды консоли
type Registry struct {
	mu       sync.RWMutex
	commands map[string]CommandRegistration
}

// NewRegistry создаёт реестр со встроенной командой help
func NewRegistry() *Registry {
	r := &Registry{commands: make(map[string]CommandRegistration)}
	r.RegisterCommand("help", "List commands", func(context.Context, []string) (string, error) {
		var sb strings.Builder
		for _, cmd := range r.Commands() {
			fmt.Fprintf(&sb, "%s - %s\n", cmd.Name, cmd.Description)
		}
		return sb.String(), nil
	})
	return r
}

// RegisterCommand регистрирует команду. Повторная регистрация заменяет обработчик.
func (r *Registry) RegisterCommand(name, description string, handler CommandFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = CommandRegistration{Name: name, Description: description, Handler: handler}
}

// Commands возвращает команды, отсортированные по имени
func (r *Registry) Commands() []CommandRegistration {
	r.mu.RLock()
	out := make([]CommandRegistration, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute разбирает строку и выполняет команду. Пустая строка ничего не делает.
func (r *Registry) Execute(ctx context.Context, line string) (string, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil
	}
	r.mu.RLock()
	cmd, ok := r.commands[parts[0]]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, parts[0])
	}
	return cmd.Handler(ctx, parts[1:])
}

// Serve читает команды построчно из in и пишет ответы в out, пока не
// закончится ввод или не будет отменён ctx.
func (r *Registry) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := r.Execute(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprint(out, res)
	}
}
