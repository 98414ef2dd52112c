package auth

import (
	"testing"
	"time"

	"salescrm/internal/models"
)

func TestOwnerFilter_PinsRestrictedActors(t *testing.T) {
	sales := Actor{UserID: 7, Role: models.RoleSales}

	got := sales.OwnerFilter(nil)
	if got == nil || *got != 7 {
		t.Fatalf("OwnerFilter(nil)=%v want=7", got)
	}

	requested := uint64(3)
	got = sales.OwnerFilter(&requested)
	if got == nil || *got != 7 {
		t.Fatalf("sales actor escaped its own scope: %v", got)
	}
}

func TestOwnerFilter_ElevatedActorsKeepTheirFilter(t *testing.T) {
	manager := Actor{UserID: 7, Role: models.RoleManager}

	if got := manager.OwnerFilter(nil); got != nil {
		t.Fatalf("OwnerFilter(nil)=%v want=nil for manager", got)
	}
	requested := uint64(3)
	if got := manager.OwnerFilter(&requested); got == nil || *got != 3 {
		t.Fatalf("OwnerFilter(&3)=%v want=3 for manager", got)
	}
}

func TestCanTouch(t *testing.T) {
	sales := Actor{UserID: 7, Role: models.RoleSales}
	if !sales.CanTouch(7) {
		t.Fatalf("actor cannot touch its own record")
	}
	if sales.CanTouch(8) {
		t.Fatalf("sales actor touched a foreign record")
	}
	admin := Actor{UserID: 1, Role: models.RoleAdmin}
	if !admin.CanTouch(8) {
		t.Fatalf("admin blocked from a foreign record")
	}
}

func TestJWT_RoundTrip(t *testing.T) {
	j := JWT{Secret: []byte("test-secret"), TokenTTL: time.Hour}
	token, _, err := j.Sign(Claims{UserID: 42, Role: models.RoleManager})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := j.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != 42 || claims.Role != models.RoleManager {
		t.Fatalf("claims=%+v", claims)
	}

	other := JWT{Secret: []byte("wrong-secret")}
	if _, err := other.Verify(token); err == nil {
		t.Fatalf("token verified with the wrong secret")
	}
}
