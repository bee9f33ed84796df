package schema

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/databyte/databyte/fieldcost"
)

type Account struct {
	ID      int64
	Name    string `bstore:"nonzero,unique"`
	Storage int64  `databyte:"total"`
}

type Meta struct {
	Created time.Time
	Notes   *string
}

type Mailbox struct {
	ID        int64
	AccountID int64 `bstore:"nonzero,ref Account" databyte:"parent"`
	Name      string
	Meta
	Index   []byte `databyte:"-"`
	Cache   string `bstore:"-"`
	Extra   int64  `databyte:"external"`
	Storage int64  `databyte:"total,parents"`
}

type Message struct {
	ID        int64 `bstore:"typename Msg"`
	MailboxID int64 `bstore:"nonzero,ref Mailbox" databyte:"parent"`
	From      string `databyte:"kind email"`
	Body      string `databyte:"file"`
	Storage   int64  `databyte:"total,parents"`
}

// Counts toward nothing: its reference is not a storage parent.
type Filter struct {
	ID        int64
	AccountID int64 `bstore:"ref Account"`
	Storage   int64 `databyte:"total,parents"`
}

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

func fieldNames(l []Field) []string {
	var r []string
	for _, f := range l {
		r = append(r, f.Name)
	}
	return r
}

func TestRegistry(t *testing.T) {
	r, err := New(Define[Account](), Define[Mailbox](), Define[Message](), Define[Filter]())
	tcheck(t, err, "new registry")

	acc := r.TypeOf(Account{})
	mb := r.TypeOf(&Mailbox{})
	msg := r.Lookup("Msg")
	filter := r.Lookup("Filter")
	if acc == nil || mb == nil || msg == nil || filter == nil {
		t.Fatalf("missing types")
	}
	if r.TypeOf(struct{}{}) != nil || r.TypeOf(nil) != nil {
		t.Fatalf("unregistered type found")
	}
	tcompare(t, len(r.Values()), 4)

	if !acc.Trackable() || acc.IncludeInParentsCount() {
		t.Fatalf("account capabilities")
	}
	if !mb.Trackable() || !mb.IncludeInParentsCount() {
		t.Fatalf("mailbox capabilities")
	}

	tcompare(t, fieldNames(mb.Fields), []string{"ID", "AccountID", "Name", "Created", "Notes", "Index", "Extra", "Storage"})
	tcompare(t, fieldNames(mb.OwnFields()), []string{"ID", "AccountID", "Name", "Created", "Notes"})
	tcompare(t, fieldNames(mb.External), []string{"Extra"})
	tcompare(t, mb.Total.Field.Name, "Storage")

	tcompare(t, msg.GoType.Name(), "Message")
	tcompare(t, fieldNames(msg.Files), []string{"Body"})
	tcompare(t, msg.Files[0].Kind, fieldcost.KindFile)
	tcompare(t, msg.OwnFields()[1].Kind, fieldcost.KindForeignKey)
	tcompare(t, msg.OwnFields()[2].Kind, fieldcost.KindText)

	// Children only through parent links flagged as storage parent.
	tcompare(t, len(acc.Children), 1)
	tcompare(t, acc.Children[0].Child, mb)
	tcompare(t, acc.Children[0].Link.Target, acc)
	tcompare(t, len(mb.Children), 1)
	tcompare(t, mb.Children[0].Child, msg)
	tcompare(t, len(msg.Children), 0)
	tcompare(t, len(filter.Parents), 1)
	tcompare(t, filter.Parents[0].CountAsStorageParent, false)
}

func TestRecordValues(t *testing.T) {
	r, err := New(Define[Account](), Define[Mailbox]())
	tcheck(t, err, "new registry")
	mb := r.TypeOf(Mailbox{})

	m := &Mailbox{ID: 3, Name: "Inbox", Extra: 7}
	rv, err := mb.Struct(m)
	tcheck(t, err, "struct")
	own := mb.OwnFields()
	tcompare(t, own[0].Value(rv), int64(3))
	tcompare(t, own[1].Value(rv), nil) // Zero reference.
	tcompare(t, own[2].Value(rv), "Inbox")
	tcompare(t, own[4].Value(rv), nil) // Nil pointer.
	tcompare(t, mb.External[0].Int(rv), int64(7))

	mb.Total.Field.SetInt(rv, 42)
	tcompare(t, m.Storage, int64(42))

	pk, err := mb.PKValue(m)
	tcheck(t, err, "pk")
	tcompare(t, pk, int64(3))

	if _, err := mb.Struct(&Account{}); err == nil {
		t.Fatalf("struct of wrong type: expected error")
	}
}

func TestDeclarationErrors(t *testing.T) {
	type BadTotal struct {
		ID      int64
		Storage string `databyte:"total"`
	}
	type TwoTotals struct {
		ID int64
		A  int64 `databyte:"total"`
		B  int64 `databyte:"total"`
	}
	type ParentsOnly struct {
		ID int64
		A  int64 `databyte:"parents"`
	}
	type ParentNoRef struct {
		ID        int64
		AccountID int64 `databyte:"parent"`
	}
	type BadFile struct {
		ID   int64
		Data []byte `databyte:"file"`
	}
	type BadWord struct {
		ID   int64
		Name string `databyte:"bogus"`
	}
	type BadKind struct {
		ID   int64
		Name string `databyte:"kind bogus"`
	}
	type PKTag struct {
		ID int64 `databyte:"total"`
	}
	type MissingRef struct {
		ID     int64
		UserID int64 `bstore:"ref User" databyte:"parent"`
	}

	tests := []Definition{
		Define[BadTotal](),
		Define[TwoTotals](),
		Define[ParentsOnly](),
		Define[ParentNoRef](),
		Define[BadFile](),
		Define[BadWord](),
		Define[BadKind](),
		Define[PKTag](),
		Define[MissingRef](),
	}
	for _, d := range tests {
		_, err := New(d)
		if err == nil || !errors.Is(err, ErrDeclaration) {
			t.Errorf("%v: got err %v, expected ErrDeclaration", d.rtype, err)
		}
	}

	_, err := New(Define[Account](), Define[Account]())
	if !errors.Is(err, ErrDeclaration) {
		t.Errorf("duplicate type: got err %v, expected ErrDeclaration", err)
	}
}
