/*
Package reconciler keeps the store aligned with what the host actually
reports. It runs two corrections on a fixed interval:

Zone discovery: every cycle the full `zoneadm list -cp` inventory is read.
Zones the store has never seen are inserted as auto-discovered, known zones
get their status, zonepath and last_seen refreshed, and records the host no
longer reports are flagged orphaned instead of deleted, so their
configuration documents and task history survive until an operator decides.

Session reclamation: console, terminal and VNC session rows whose recorded
process has died are closed. Rows like these are left behind when the agent
or an individual zlogin crashes; closing them releases the one-active-per-
zone slot so the next attach can start cleanly. Rows that have no pid yet
are left alone, their owning manager is still setting them up.

The first cycle runs immediately on startup, which doubles as the boot-time
cleanup of sessions from a previous agent process. Like the collectors, the
reconciler is stateless between cycles; every decision is made from the
current zoneadm output and store rows.
*/
package reconciler
