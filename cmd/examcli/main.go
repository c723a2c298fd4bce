// Command examcli takes a mock test from a terminal: it clones a paper (or
// resumes one), runs the countdown and reads answers from stdin.
//
//	examcli -user u1 -paper ELE202404010130AB
//	> 3 B        answer question 3 with B
//	> 3 -        clear question 3
//	> list       show questions and answers
//	> save       mirror answers on the server
//	> submit
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/client"
	"github.com/mind-engage/iti-mocktest/internal/mocktest"
	"github.com/mind-engage/iti-mocktest/internal/session"
	"github.com/mind-engage/iti-mocktest/internal/storage"
)

func main() {
	_ = godotenv.Load()

	base := flag.String("base", envOr("BAAS_ENDPOINT", "http://localhost:8080"), "gateway base URL")
	user := flag.String("user", "", "user id (offline login uses it as password)")
	role := flag.String("role", "student", "role for offline login")
	paper := flag.String("paper", "", "paper id to attempt")
	doc := flag.String("doc", "", "attempt document id to resume")
	dir := flag.String("checkpoints", envOr("BLOB_BASE_PATH", "./data"), "local checkpoint directory")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	if *user == "" || (*paper == "" && *doc == "") {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, *base, *user, *role, *paper, *doc, *dir); err != nil {
		log.Fatal("exam failed", zap.Error(err))
	}
}

func run(ctx context.Context, log *zap.Logger, base, user, role, paper, docID, dir string) error {
	c := client.New(base)
	if !c.Healthy(ctx) {
		return fmt.Errorf("gateway %s is not reachable", base)
	}
	if _, err := c.Login(ctx, user, user, role); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if docID == "" {
		res, err := c.CreateNewMockTest(ctx, mocktest.ClonePayload{PaperID: paper, UserID: user})
		if err != nil {
			return err
		}
		if res.Message != "" {
			fmt.Println(res.Message)
		}
		docID = res.DocumentID
	}

	bs, err := storage.NewFSStore(dir)
	if err != nil {
		return err
	}
	s, err := session.Resume(ctx, session.NewBlobCheckpointer(bs), docID, c)
	if err != nil {
		return err
	}
	switch s.Current() {
	case session.Submitted:
		fmt.Println("This paper is already submitted.")
		return nil
	case session.NotStarted:
		view, err := c.StartPaper(ctx, docID)
		if err != nil {
			return err
		}
		if err := s.Start(ctx, *view.StartTime); err != nil {
			return err
		}
	}
	printQuestions(s)

	runner := &session.Runner{
		Session:   s,
		Submitter: c,
		Log:       log,
		OnWarn: func(left time.Duration) {
			fmt.Printf("\n%s left\n> ", left.Round(time.Second))
		},
		OnSubmitted: func(res mocktest.SubmitResult) {
			fmt.Printf("\nTime is up. Score %d/%d\n", res.Score, res.Total)
		},
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runner.Run(runCtx) }()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
		close(lines)
	}()

	fmt.Print("> ")
	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			fmt.Println("\nanswers are checkpointed; resume with -doc", docID)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			finished, err := handle(ctx, c, s, line)
			if err != nil {
				fmt.Println(err)
			}
			if finished {
				cancel()
				return nil
			}
			fmt.Print("> ")
		}
	}
}

// handle applies one command line; finished reports a completed submission.
func handle(ctx context.Context, c *client.Client, s *session.Session, line string) (finished bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "list":
		printQuestions(s)
		return false, nil
	case "save":
		return false, c.SaveResponses(ctx, s.DocumentID, s.Responses())
	case "submit":
		res, err := s.Submit(ctx, c, time.Now())
		if errors.Is(err, session.ErrSubmitted) {
			fmt.Println("already submitted")
			return true, nil
		}
		if err != nil {
			return false, err
		}
		fmt.Printf("Score %d/%d\n", res.Score, res.Total)
		return true, nil
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 || n > len(s.Questions) || len(fields) != 2 {
		return false, errors.New("usage: <question number> <label>|-, list, save, submit")
	}
	label := strings.ToUpper(fields[1])
	if label == "-" {
		label = ""
	}
	return false, s.Answer(ctx, s.Questions[n-1].ID, label)
}

func printQuestions(s *session.Session) {
	fmt.Printf("Paper %s, %s left\n", s.PaperID, s.Remaining(time.Now()).Round(time.Second))
	for i, q := range s.Questions {
		answer := "-"
		if q.Response != nil {
			answer = *q.Response
		}
		fmt.Printf("%2d. %s  [%s]\n", i+1, q.Text, answer)
		for j, opt := range q.Options {
			fmt.Printf("      %c) %s\n", 'A'+j, opt)
		}
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
