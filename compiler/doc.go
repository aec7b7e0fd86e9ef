/*
Package compiler runs helper call expansion over methods described by fixtures.

Pipeline

	fixture (yaml) ->
		load ->
	flow graph (cfg) ->
		expand_runtime_lookups ->
		expand_static_init ->
		expand_tls ->
		expand_intrinsics ->
	expanded flow graph ->
		check ->
	interp(before) == interp(after) for every runtime scenario
*/
package compiler
