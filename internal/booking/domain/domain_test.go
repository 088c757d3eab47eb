package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/taxiroutes/internal/booking/domain"
)

func intPtr(v int) *int { return &v }

func validInput() domain.NewBooking {
	return domain.NewBooking{
		Phone:      "+998901234567",
		TripType:   domain.TripPassenger,
		Passengers: intPtr(2),
		FromCity:   "Nukus",
		ToCity:     "Khiva",
	}
}

func TestValidatePhoneDigitBoundaries(t *testing.T) {
	cases := []struct {
		phone string
		ok    bool
	}{
		{"123456789", true},
		{"+1 (23) 456-789", true},
		{"123456789012345", true},
		{"+123 456 789 012 345", true},
		{"12345678", false},
		{"(12) 345-678", false},
		{"1234567890123456", false},
		{"+1-234-567-890-123-456", false},
		// digits from other scripts are formatting, not digits
		{"١٢٣٤٥٦٧٨٩", false},
		{"１２３４５６７８９", false},
		{"+99890١٢٣٤٥٦٧", false},
	}
	for _, tc := range cases {
		in := validInput()
		in.Phone = tc.phone
		_, err := in.Validate()
		if tc.ok {
			require.NoError(t, err, tc.phone)
			continue
		}
		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr), tc.phone)
		require.Equal(t, "phone", verr.Details[0].Field)
	}
}

func TestValidateRequiresCitiesAndPhone(t *testing.T) {
	in := validInput()
	in.Phone = "  "
	in.FromCity = ""
	in.ToCity = " "
	_, err := in.Validate()
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	fields := map[string]bool{}
	for _, d := range verr.Details {
		fields[d.Field] = true
	}
	require.True(t, fields["phone"])
	require.True(t, fields["fromCity"])
	require.True(t, fields["toCity"])
}

func TestValidatePassengerRules(t *testing.T) {
	in := validInput()
	in.Passengers = nil
	_, err := in.Validate()
	require.Error(t, err)

	in.Passengers = intPtr(0)
	_, err = in.Validate()
	require.Error(t, err)

	in.Passengers = intPtr(domain.MaxPassengers)
	_, err = in.Validate()
	require.NoError(t, err)

	for _, n := range []int{domain.MaxPassengers + 1, 1 << 31, 1<<32 + 2} {
		in.Passengers = intPtr(n)
		_, err = in.Validate()
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr, n)
		require.Equal(t, "passengers", verr.Details[0].Field)
		require.Equal(t, "must be at most 50", verr.Details[0].Message)
	}

	in.TripType = "pochta"
	in.Passengers = intPtr(3)
	out, err := in.Validate()
	require.NoError(t, err)
	require.Equal(t, domain.TripDelivery, out.TripType)
	require.Nil(t, out.Passengers)

	in.TripType = "cargo"
	_, err = in.Validate()
	require.Error(t, err)
}

func TestClaimTokenRoundTrip(t *testing.T) {
	id := uuid.New()
	token := domain.ClaimToken(id)
	require.Equal(t, "take|"+id.String(), token)
	require.LessOrEqual(t, len(token), 64)

	parsed, ok := domain.ParseClaimToken(token)
	require.True(t, ok)
	require.Equal(t, id, parsed)

	for _, bad := range []string{"", "take", "take|", "take|nope", "give|" + id.String(), "take|" + uuid.Nil.String()} {
		_, ok := domain.ParseClaimToken(bad)
		require.False(t, ok, bad)
	}
	require.True(t, domain.IsClaimToken("take|garbage"))
	require.False(t, domain.IsClaimToken("other"))
}

func TestThrottledErrorRoundsUp(t *testing.T) {
	require.Equal(t, 3, (&domain.ThrottledError{Remaining: 2100 * time.Millisecond}).SecondsRemaining())
	require.Equal(t, 1, (&domain.ThrottledError{Remaining: 0}).SecondsRemaining())
}

func TestCreatedEventOmitsPhone(t *testing.T) {
	b := domain.Booking{ID: uuid.New(), Phone: "+998901234567", TripType: domain.TripPassenger, Passengers: intPtr(2), FromCity: "Nukus", ToCity: "Khiva"}
	ev := domain.CreatedEvent(b)
	require.Equal(t, domain.EventBookingCreated, ev.Type)
	for _, v := range ev.Payload {
		require.NotEqual(t, b.Phone, v)
	}
	require.Equal(t, 2, ev.Payload["passengers"])
}
