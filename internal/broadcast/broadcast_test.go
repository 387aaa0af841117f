package broadcast

import (
	"testing"
	"time"
)

func TestSubscribeReceivesLastValueImmediately(t *testing.T) {
	s := New[int](4)
	s.Publish(42)

	ch, unsub := s.Subscribe()
	defer unsub()

	select {
	case v := <-ch:
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cached last value")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	s := New[string](4)
	ch1, unsub1 := s.Subscribe()
	ch2, unsub2 := s.Subscribe()
	defer unsub1()
	defer unsub2()

	s.Publish("hello")

	for _, ch := range []<-chan string{ch1, ch2} {
		select {
		case v := <-ch:
			if v != "hello" {
				t.Errorf("got %q, want hello", v)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := New[int](1)
	ch, unsub := s.Subscribe()
	unsub()

	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestSubscriberCount(t *testing.T) {
	s := New[int](1)
	if s.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers initially")
	}
	_, unsub := s.Subscribe()
	if s.SubscriberCount() != 1 {
		t.Fatal("expected 1 subscriber after Subscribe")
	}
	unsub()
	if s.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	s := New[int](0)
	ch, unsub := s.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		s.Publish(1)
		s.Publish(2)
		s.Publish(3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	<-ch
}
