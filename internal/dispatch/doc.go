// Package dispatch fires scheduled moves at their time of day.
//
// Each schedule entry gets a daily trigger ("M H * * *" via robfig/cron). A
// single tick loop, hosted by a supervisor, wakes every tick (1s by default),
// sends every due trigger through the device channel and moves it to the
// next day. Trigger state is only touched under the dispatcher mutex, so the
// shell can add or clear entries while the loop runs.
package dispatch
