package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
)

// runJob starts job and prints its events until it ends, answering prompts
// from the terminal. Cancelling ctx asks the worker to stop; the pool still
// decides when it is over. password is the last answer to a password
// prompt, so a successful login can store it.
func runJob(ctx context.Context, a *app.App, job app.Job) (w *collection.Worker, password string, err error) {
	events, cancel := a.Pool.Subscribe()
	defer cancel()
	w, err = a.Start(context.WithoutCancel(ctx), job)
	if err != nil {
		return nil, "", err
	}

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			fmt.Println("Stopping...")
			w.Stop()
			interrupted = nil
		case ev := <-events:
			if ev.Worker != w.ID() {
				continue
			}
			switch ev.Kind {
			case collection.EventMessage:
				fmt.Println(ev.Text)
			case collection.EventError:
				fmt.Fprintf(os.Stderr, "%s: %s\n", ev.Title, ev.Detail)
			case collection.EventDeadTime:
				fmt.Printf("Press Ctrl-C to stop; the task is given up %.0fs later.\n", ev.DeadTime)
			case collection.EventPrompt:
				answer := ask(a, ev.Prompt)
				if ev.Prompt.Kind == collection.PromptPassword && !answer.Cancel {
					password = answer.Text
				}
				if err := w.Answer(answer); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
			case collection.EventFinished, collection.EventCanceled:
				return w, password, nil
			}
		}
	}
}

// ask reads an answer for p; an empty line gives up.
func ask(a *app.App, p *collection.Prompt) collection.Answer {
	var (
		text string
		err  error
	)
	switch p.Kind {
	case collection.PromptPassword:
		if p.Message != "" {
			fmt.Println(p.Message)
		}
		text, err = readSecret(fmt.Sprintf("Password for %s was rejected, enter it again: ", p.Site))
	case collection.PromptCaptcha:
		path := filepath.Join(a.Dirs.Cache, "captcha.jpg")
		if werr := os.WriteFile(path, p.Captcha, 0o600); werr != nil {
			fmt.Fprintln(os.Stderr, werr)
		}
		fmt.Printf("The portal wants a captcha, the image is at %s\n", path)
		text, err = readLine("Captcha: ")
		os.Remove(path)
	case collection.PromptMFA:
		text, err = readLine(fmt.Sprintf("Verification code sent to %s: ", p.Phone))
	case collection.PromptAccountChoice:
		for i, c := range p.Choices {
			fmt.Printf("  %d) %s\n", i, c)
		}
		// a number or the name itself
		text, err = readLine("Log in as: ")
	}
	if err != nil || text == "" {
		return collection.Answer{Cancel: true}
	}
	return collection.Answer{Text: text}
}

func printResult(w *collection.Worker) error {
	if w.Outcome() != collection.EventFinished {
		return fmt.Errorf("%s did not finish", w.TaskName())
	}
	if w.Result() == nil {
		return nil
	}
	out, err := json.MarshalIndent(w.Result(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
