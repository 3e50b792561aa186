package pending

import "testing"

func TestSettleDeliversToAwaiter(t *testing.T) {
	tbl := New()
	wait := tbl.Await("n1")

	if ok := tbl.Settle("n1", "result", nil); !ok {
		t.Fatal("expected Settle to find the waiter")
	}
	res := <-wait
	if res.Err != nil || res.Value != "result" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSettleUnknownNonceReturnsFalse(t *testing.T) {
	tbl := New()
	if ok := tbl.Settle("ghost", nil, nil); ok {
		t.Fatal("expected Settle on unknown nonce to report not found")
	}
}

func TestCloseRejectsOutstandingWaiters(t *testing.T) {
	tbl := New()
	wait := tbl.Await("n1")
	tbl.Close()

	res := <-wait
	if res.Err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed, got %v", res.Err)
	}
}

func TestAwaitAfterCloseSettlesImmediately(t *testing.T) {
	tbl := New()
	tbl.Close()

	wait := tbl.Await("n1")
	res := <-wait
	if res.Err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed, got %v", res.Err)
	}
}
