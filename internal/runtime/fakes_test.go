package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"butlermarket/agent/internal/butler"
	"butlermarket/agent/internal/ledger"
	"butlermarket/agent/internal/llm"
	"butlermarket/agent/internal/store"
)

type sentLetter struct {
	To, Subject, Body string
}

type sentPackage struct {
	To        string
	Resources ledger.Resources
}

type fakeServer struct {
	info   butler.Info
	people []string

	registered int
	letters    []sentLetter
	packages   []sentPackage
	deleted    []string

	packageErr error
	infoErr    error
}

func (s *fakeServer) Register(context.Context) error {
	s.registered++
	return nil
}

func (s *fakeServer) Info(context.Context) (butler.Info, error) {
	if s.infoErr != nil {
		return butler.Info{}, s.infoErr
	}
	return s.info, nil
}

func (s *fakeServer) People(context.Context) ([]string, error) {
	return s.people, nil
}

func (s *fakeServer) SendLetter(_ context.Context, to, subject, body string) error {
	s.letters = append(s.letters, sentLetter{To: to, Subject: subject, Body: body})
	return nil
}

func (s *fakeServer) SendPackage(_ context.Context, to string, resources ledger.Resources) error {
	if s.packageErr != nil {
		return s.packageErr
	}
	s.packages = append(s.packages, sentPackage{To: to, Resources: resources.Clone()})
	return nil
}

func (s *fakeServer) DeleteMail(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

// fakeModel answers each Chat with the next scripted response; once the
// script runs out it returns no tool calls.
type fakeModel struct {
	script []fakeReply
	calls  []llm.Request
}

type fakeReply struct {
	calls []llm.ToolCall
	err   error
}

func (m *fakeModel) Chat(_ context.Context, req llm.Request) (llm.Response, error) {
	m.calls = append(m.calls, req)
	if len(m.script) == 0 {
		return llm.Response{}, nil
	}
	next := m.script[0]
	m.script = m.script[1:]
	if next.err != nil {
		return llm.Response{}, next.err
	}
	return llm.Response{ToolCalls: next.calls}, nil
}

func (m *fakeModel) Provider() string { return "fake" }
func (m *fakeModel) Model() string    { return "fake-1" }

func reply(name string, args any) fakeReply {
	raw, _ := json.Marshal(args)
	return fakeReply{calls: []llm.ToolCall{{Name: name, Arguments: raw}}}
}

func failure() fakeReply {
	return fakeReply{err: errors.New("model offline")}
}

type memJournal struct {
	entries []store.Entry
}

func (j *memJournal) Record(_ context.Context, e store.Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
