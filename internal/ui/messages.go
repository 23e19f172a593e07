package ui

import "pushscheduler/internal/scheduling"

type alertMsg scheduling.Alert

type stateMsg scheduling.State

type promptMsg struct {
	reply chan<- bool
}

type initDoneMsg struct{ err error }

type toggleDoneMsg struct{ err error }

type rotateDoneMsg struct{ err error }
