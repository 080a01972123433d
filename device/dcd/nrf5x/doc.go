// Package nrf5x models the nRF52 USBD peripheral.
//
// Endpoints 0 to 7 carry control, bulk and interrupt traffic with a 64-byte
// endpoint buffer each; isochronous traffic is only possible on endpoint 8.
// The peripheral ACKs OUT packets into the endpoint buffer on its own and
// every move between an endpoint buffer and RAM is an EasyDMA job. Only one
// job may run at a time, so jobs are queued and executed in order.
//
// The control status stage is a task rather than a transfer and produces no
// interrupt, so its completion is reported as soon as the task is started.
// SET_ADDRESS is handled by the peripheral: the new address takes effect
// once the host has completed the status handshake.
package nrf5x
