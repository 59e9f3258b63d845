package rooms

import (
	"testing"
)

func joinAll(t *testing.T, g *Registry, roomID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := g.Join(roomID, id, &captureTransport{}, KindHuman, false); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSpeakerArbitration(t *testing.T) {
	g := newTestRegistry()
	joinAll(t, g, "r1", "u1", "u2")

	state, speaker, ok := g.SetVoiceActivity("u1", true)
	if !ok {
		t.Fatal("u1 is a member")
	}
	if state != StateHumanSpeaking || speaker != "u1" {
		t.Fatalf("expected u1 speaking, got state=%s speaker=%s", state, speaker)
	}

	// Second activation takes over the speaker slot.
	_, speaker, _ = g.SetVoiceActivity("u2", true)
	if speaker != "u2" {
		t.Fatalf("expected u2 to take over, got %s", speaker)
	}

	// When u2 stops, the still-active u1 is rediscovered.
	state, speaker, _ = g.SetVoiceActivity("u2", false)
	if state != StateHumanSpeaking || speaker != "u1" {
		t.Fatalf("expected fallback to u1, got state=%s speaker=%s", state, speaker)
	}

	// When nobody is speaking the room goes idle.
	state, speaker, _ = g.SetVoiceActivity("u1", false)
	if state != StateActive || speaker != "" {
		t.Fatalf("expected idle room, got state=%s speaker=%s", state, speaker)
	}
}

func TestSpeakerMostRecentActivationWins(t *testing.T) {
	g := newTestRegistry()
	joinAll(t, g, "r1", "u1", "u2", "u3")

	g.SetVoiceActivity("u1", true)
	g.SetVoiceActivity("u2", true)
	g.SetVoiceActivity("u3", true)

	// u3 stops: u2 activated after u1, so u2 wins the rescan.
	_, speaker, _ := g.SetVoiceActivity("u3", false)
	if speaker != "u2" {
		t.Fatalf("expected u2 as most recent still-active speaker, got %s", speaker)
	}
}

func TestSpeakerClearedWhenSpeakerLeaves(t *testing.T) {
	g := newTestRegistry()
	joinAll(t, g, "r1", "u1", "u2")

	g.SetVoiceActivity("u1", true)
	g.Leave("u1")

	state, speaker, ok := g.RoomState("r1")
	if !ok {
		t.Fatal("room should still exist")
	}
	if speaker != "" || state != StateActive {
		t.Fatalf("expected cleared speaker after leave, got state=%s speaker=%s", state, speaker)
	}
}

func TestAgentVoiceActivityState(t *testing.T) {
	g := newTestRegistry()
	joinAll(t, g, "r1", "u1")
	if err := g.Join("r1", "ai-assistant-r1", NewNullTransport(), KindAgent, false); err != nil {
		t.Fatal(err)
	}

	state, speaker, _ := g.SetVoiceActivity("ai-assistant-r1", true)
	if state != StateAgentSpeaking || speaker != "ai-assistant-r1" {
		t.Fatalf("expected agent speaking, got state=%s speaker=%s", state, speaker)
	}
}

func TestVoiceActivityUnknownParticipant(t *testing.T) {
	g := newTestRegistry()
	joinAll(t, g, "r1", "u1")

	if _, _, ok := g.SetVoiceActivity("ghost", true); ok {
		t.Fatal("unknown participant must not arbitrate")
	}
}

func TestSetAudioEnabled(t *testing.T) {
	g := newTestRegistry()
	joinAll(t, g, "r1", "u1")

	if !g.SetAudioEnabled("u1", false) {
		t.Fatal("expected flag update for member")
	}
	for _, v := range g.Participants("r1") {
		if v.UserID == "u1" && v.AudioEnabled {
			t.Fatal("audio flag should be off")
		}
	}
	if g.SetAudioEnabled("ghost", false) {
		t.Fatal("unknown participant should report false")
	}
}
