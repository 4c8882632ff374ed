package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/Dublin")
	if err != nil {
		panic(err)
	}
}

// force the clock into Irish time because the listing site is Irish,
// cost history entries are compared by calendar day and a server that
// drifts into another timezone would split one day into two
func Now() time.Time {
	return time.Now().In(Location)
}
