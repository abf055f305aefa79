package bus

import "testing"

func TestNotifyNonBlocking(t *testing.T) {
	n := NewNotifier(1)
	// Far more notifications than buffer capacity must never block.
	for i := 0; i < 100; i++ {
		n.Notify()
	}
	select {
	case <-n.C():
	default:
		t.Fatal("no pending notification after Notify")
	}
	select {
	case <-n.C():
		t.Fatal("coalesced notifications delivered more than buffered")
	default:
	}
}

func TestNotifyAfterDrain(t *testing.T) {
	n := NewNotifier(1)
	n.Notify()
	<-n.C()
	n.Notify()
	select {
	case <-n.C():
	default:
		t.Fatal("notifier dead after drain")
	}
}
