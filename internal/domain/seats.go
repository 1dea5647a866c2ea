package domain

import "sort"

// SortSeats orders seats by natural seat-number order: the leading numeric run
// is compared as a number, the remainder lexicographically. "2A" sorts before
// "10A", which plain string order would get wrong.
func SortSeats(seats []Seat) {
	sort.Slice(seats, func(i, j int) bool {
		return lessSeatNumber(seats[i].SeatNumber, seats[j].SeatNumber)
	})
}

func lessSeatNumber(a, b string) bool {
	an, as := splitSeatNumber(a)
	bn, bs := splitSeatNumber(b)

	if an != bn {
		return an < bn
	}

	if as != bs {
		return as < bs
	}

	return a < b
}

func splitSeatNumber(s string) (int64, string) {
	var n int64
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		n = n*10 + int64(s[i]-'0')
		i++
	}
	return n, s[i:]
}
