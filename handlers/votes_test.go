// Copyright (c) 2026 Labelmesh.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labelmesh/labelrounds/models"
	"github.com/labelmesh/labelrounds/testutil"
)

func TestSubmitVote(t *testing.T) {
	f := setupVoting(t, "s1", "s2")
	handler := NewVoteHandler(f.ctrl, f.cfg)

	req := testutil.MakeRequest("POST", "/votes", models.SubmitVoteRequest{
		SampleID: "s1",
		Voter:    contributorAddr,
		Label:    "cat",
	}, nil)
	w := httptest.NewRecorder()

	handler.SubmitVote(w, req)

	testutil.AssertStatus(t, w, http.StatusCreated)

	var resp models.SubmitVoteResponse
	testutil.AssertJSON(t, w, &resp)
	if !resp.Recorded {
		t.Error("Expected vote to be recorded")
	}
	if resp.Finalized {
		t.Error("Expected sample to stay open with one of two voters in")
	}
}

func TestSubmitVote_FastPathFinalizes(t *testing.T) {
	f := setupVoting(t, "s1")
	handler := NewVoteHandler(f.ctrl, f.cfg)

	for _, voter := range []string{coordinatorAddr, contributorAddr} {
		req := testutil.MakeRequest("POST", "/votes", models.SubmitVoteRequest{
			SampleID: "s1",
			Voter:    voter,
			Label:    "dog",
		}, nil)
		w := httptest.NewRecorder()
		handler.SubmitVote(w, req)
		testutil.AssertStatus(t, w, http.StatusCreated)

		var resp models.SubmitVoteResponse
		testutil.AssertJSON(t, w, &resp)
		if voter == contributorAddr && !resp.Finalized {
			t.Error("Expected final eligible vote to finalize the sample")
		}
	}
}

func TestSubmitVote_DuplicateIsIdempotent(t *testing.T) {
	f := setupVoting(t, "s1", "s2")
	handler := NewVoteHandler(f.ctrl, f.cfg)

	first := testutil.MakeRequest("POST", "/votes", models.SubmitVoteRequest{
		SampleID: "s1", Voter: contributorAddr, Label: "cat",
	}, nil)
	w := httptest.NewRecorder()
	handler.SubmitVote(w, first)
	testutil.AssertStatus(t, w, http.StatusCreated)

	retry := testutil.MakeRequest("POST", "/votes", models.SubmitVoteRequest{
		SampleID: "s1", Voter: contributorAddr, Label: "dog",
	}, nil)
	w = httptest.NewRecorder()
	handler.SubmitVote(w, retry)

	testutil.AssertStatus(t, w, http.StatusOK)

	var resp models.SubmitVoteResponse
	testutil.AssertJSON(t, w, &resp)
	if resp.Recorded {
		t.Error("Expected duplicate vote to be acknowledged, not recorded")
	}
}

func TestSubmitVote_ObserverRejected(t *testing.T) {
	f := setupVoting(t, "s1")
	handler := NewVoteHandler(f.ctrl, f.cfg)

	req := testutil.MakeRequest("POST", "/votes", models.SubmitVoteRequest{
		SampleID: "s1", Voter: observerAddr, Label: "cat",
	}, nil)
	w := httptest.NewRecorder()
	handler.SubmitVote(w, req)

	testutil.AssertStatus(t, w, http.StatusUnauthorized)
}

func TestSubmitVote_UnknownSample(t *testing.T) {
	f := setupVoting(t, "s1")
	handler := NewVoteHandler(f.ctrl, f.cfg)

	req := testutil.MakeRequest("POST", "/votes", models.SubmitVoteRequest{
		SampleID: "nope", Voter: contributorAddr, Label: "cat",
	}, nil)
	w := httptest.NewRecorder()
	handler.SubmitVote(w, req)

	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestSubmitVote_Validation(t *testing.T) {
	f := setupVoting(t, "s1")
	handler := NewVoteHandler(f.ctrl, f.cfg)

	testCases := []struct {
		name string
		req  models.SubmitVoteRequest
	}{
		{"missing sample_id", models.SubmitVoteRequest{Voter: contributorAddr, Label: "cat"}},
		{"missing label", models.SubmitVoteRequest{SampleID: "s1", Voter: contributorAddr}},
		{"malformed address", models.SubmitVoteRequest{SampleID: "s1", Voter: "not-an-address", Label: "cat"}},
		{"short address", models.SubmitVoteRequest{SampleID: "s1", Voter: "0xabc", Label: "cat"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := testutil.MakeRequest("POST", "/votes", tc.req, nil)
			w := httptest.NewRecorder()
			handler.SubmitVote(w, req)
			testutil.AssertStatus(t, w, http.StatusBadRequest)
		})
	}
}

func TestSubmitVote_AfterProjectEnded(t *testing.T) {
	f := setupVoting(t, "s1")
	handler := NewVoteHandler(f.ctrl, f.cfg)

	f.ctrl.EndProject(context.Background())

	req := testutil.MakeRequest("POST", "/votes", models.SubmitVoteRequest{
		SampleID: "s1", Voter: contributorAddr, Label: "cat",
	}, nil)
	w := httptest.NewRecorder()
	handler.SubmitVote(w, req)

	testutil.AssertStatus(t, w, http.StatusConflict)
}

func TestSubmitVote_CaseInsensitiveAddress(t *testing.T) {
	f := setupVoting(t, "s1", "s2")
	handler := NewVoteHandler(f.ctrl, f.cfg)

	// Mixed-case form of the contributor address normalizes to the
	// registered one.
	req := testutil.MakeRequest("POST", "/votes", models.SubmitVoteRequest{
		SampleID: "s1",
		Voter:    "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
		Label:    "cat",
	}, nil)
	w := httptest.NewRecorder()
	handler.SubmitVote(w, req)

	testutil.AssertStatus(t, w, http.StatusCreated)
}
