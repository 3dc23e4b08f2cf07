package embedtext

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	got := Redact("Կապ՝ poghos.poghosyan@example.am հասցեով")
	require.Equal(t, "Կապ՝ [EMAIL] հասցեով", got)
}

func TestRedactPhone(t *testing.T) {
	got := Redact("Հեռախոս՝ +374 10 58-00-00, պարզաբանման համար")
	require.Contains(t, got, "[PHONE]")
	require.NotContains(t, got, "374 10")
}

func TestRedactPassportAndID(t *testing.T) {
	got := Redact("Անձնագիր AN1234567, ՀԾՀ 1234567890")
	require.Equal(t, "Անձնագիր [ID], ՀԾՀ [ID]", got)
}

func TestRedactPostalAddress(t *testing.T) {
	got := Redact("Հասցե՝ 0010, Երևան, Արշակունյաց 5. Հաջորդ նախադասություն։")
	require.Contains(t, got, "[ADDRESS]")
	require.NotContains(t, got, "Արշակունյաց")
}

func TestRedactLeavesLegalTextAlone(t *testing.T) {
	text := "ՀՀ վճռաբեկ դատարանի 2020 թվականի որոշումը, հոդված 17"
	require.Equal(t, text, Redact(text))
}

func TestWhitelistGuardPreservesShortCandidates(t *testing.T) {
	// A synthetic short candidate inside a whitelisted institution name must
	// be preserved; the same candidate elsewhere is redacted.
	re := regexp.MustCompile(`Court`)
	inside := "filed before the Constitutional Court of Armenia"
	require.Equal(t, inside, replaceGuarded(inside, re, "[X]"))

	outside := "the word Court standing alone"
	require.Equal(t, "the word [X] standing alone", replaceGuarded(outside, re, "[X]"))
}

func TestRedactKeepsISODates(t *testing.T) {
	in := "ԸՆԴՈՒՆՎԱԾ՝ 1998-05-05, ուժի մեջ՝ 1999-01-01"
	require.Equal(t, in, Redact(in))

	// A real phone next to a date is still redacted.
	got := Redact("որոշում 2015-03-17, հեռախոս +374 10 58-00-00")
	require.Contains(t, got, "2015-03-17")
	require.Contains(t, got, "[PHONE]")
}

func TestRedactDeterministic(t *testing.T) {
	in := "email a@b.io phone +37410580000 id AN1234567"
	require.Equal(t, Redact(in), Redact(in))
}
