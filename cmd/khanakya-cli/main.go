package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/vbonduro/khanakya/internal/config"
	"github.com/vbonduro/khanakya/internal/db"
	"github.com/vbonduro/khanakya/internal/domain"
	"github.com/vbonduro/khanakya/internal/input"
	"github.com/vbonduro/khanakya/internal/llm/backend"
	"github.com/vbonduro/khanakya/internal/logging"
	"github.com/vbonduro/khanakya/internal/service"
	"github.com/vbonduro/khanakya/internal/store"
)

type options struct {
	uploadPath string
	cameraPath string
}

func main() {
	var opts options
	rootCmd := &cobra.Command{
		Use:   "khanakya-cli",
		Short: "Suggest recipes from a photo of ingredients",
		Long: "khanakya-cli asks for a model API key, then for an uploaded photo or a camera frame,\n" +
			"and prints the detected ingredients followed by recipe suggestions.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	rootCmd.Flags().StringVarP(&opts.uploadPath, "upload", "u", "", "path to a JPG or PNG photo of ingredients")
	rootCmd.Flags().StringVarP(&opts.cameraPath, "camera", "c", "", "path to a captured camera frame")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Keep the console readable unless the user asked for more.
	level := cfg.LogLevel
	if _, ok := os.LookupEnv("LOG_LEVEL"); !ok {
		level = "warn"
	}
	logger, cleanup, err := logging.New(level, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()

	prompts, err := cfg.Prompts()
	if err != nil {
		return err
	}
	model, err := backend.New(cfg, logger)
	if err != nil {
		return err
	}

	var history service.RunRecorder
	if cfg.HistoryEnabled() {
		database, err := db.Open(cfg.HistoryDBPath)
		if err != nil {
			return err
		}
		defer func() {
			_ = database.Close()
		}()
		history = store.NewRunStore(database)
	}
	svc := service.NewRunService(model, prompts, history, logger)

	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	c := &console{rl: rl, out: rl.Stdout(), svc: svc}
	return c.session(opts)
}

// lineReader is the subset of *readline.Instance the console uses.
type lineReader interface {
	ReadPassword(prompt string) ([]byte, error)
	Readline() (string, error)
	SetPrompt(prompt string)
}

// console drives one interactive session. The key lives only in memory.
type console struct {
	rl     lineReader
	out    io.Writer
	svc    *service.RunService
	apiKey string
}

// session asks for the key, then runs once when a path was given on the
// command line or loops over prompts until EOF.
func (c *console) session(opts options) error {
	oneShot := opts.uploadPath != "" || opts.cameraPath != ""
	if err := c.readKey(); err != nil {
		if oneShot {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		return nil
	}

	if oneShot {
		c.run(opts.uploadPath, opts.cameraPath)
		return nil
	}

	fmt.Fprintf(c.out, "Suggesting %s recipes. Leave a prompt blank to skip it, type :key to change the API key, Ctrl-D to quit.\n", c.svc.Cuisine())
	for {
		upload, err := c.prompt("upload> ")
		if err != nil { // io.EOF
			return nil
		}
		if upload == ":key" {
			if err := c.readKey(); err != nil {
				return nil
			}
			continue
		}
		camera, err := c.prompt("camera> ")
		if err != nil {
			return nil
		}
		c.run(upload, camera)
	}
}

func (c *console) readKey() error {
	key, err := c.rl.ReadPassword("API key: ")
	if err != nil {
		return err
	}
	c.apiKey = strings.TrimSpace(string(key))
	if c.apiKey == "" {
		fmt.Fprintln(c.out, input.UserMessage(input.ErrMissingCredential))
	}
	return nil
}

func (c *console) prompt(p string) (string, error) {
	c.rl.SetPrompt(p)
	line, err := c.rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *console) run(uploadPath, cameraPath string) {
	upload, err := readSource(uploadPath)
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	camera, err := readSource(cameraPath)
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}

	rc, err := input.Acquire(c.apiKey, upload, camera)
	if err != nil {
		fmt.Fprintln(c.out, input.UserMessage(err))
		return
	}

	fmt.Fprintln(c.out, "Working...")
	_, err = c.svc.Run(context.Background(), rc, &printer{out: c.out})
	if err != nil {
		var stageErr *service.StageError
		if errors.As(err, &stageErr) {
			fmt.Fprintln(c.out, stageErr.UserMessage())
			return
		}
		fmt.Fprintln(c.out, err)
	}
}

func readSource(path string) (*input.Source, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return &input.Source{Filename: filepath.Base(path), Data: data}, nil
}

// printer shows each stage's answer as soon as it arrives.
type printer struct {
	out io.Writer
}

func (p *printer) ImageReady(rc *domain.RunContext) {
	b := rc.Image.Bitmap.Bounds()
	fmt.Fprintf(p.out, "Using %s image (%dx%d %s).\n", rc.Image.Source, b.Dx(), b.Dy(), rc.Image.Format)
}

func (p *printer) Detected(_ *domain.RunContext, detection string) {
	fmt.Fprintf(p.out, "\nDetected ingredients:\n%s\n", detection)
}

func (p *printer) Generated(_ *domain.RunContext, recipes string) {
	fmt.Fprintf(p.out, "\nRecipe suggestions:\n%s\n", recipes)
}
