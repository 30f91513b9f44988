package services

import "errors"

var (
	// ErrRequestNotFound means the request id is unknown.
	ErrRequestNotFound = errors.New("request not found")

	// ErrGuardViolation means the request is not in the status the
	// operation requires; the request is left unchanged.
	ErrGuardViolation = errors.New("operation not allowed in current request status")

	// ErrRequestAlreadyActive means the customer already holds an active
	// request.
	ErrRequestAlreadyActive = errors.New("request already active")

	// ErrNoRobotAvailable means no active robot exists to assign.
	ErrNoRobotAvailable = errors.New("no robot available, try again later")

	// ErrRobotNotFound means the robot name is unknown to the registry.
	ErrRobotNotFound = errors.New("robot not found")
)
