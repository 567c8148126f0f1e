/*
Package ledger derives balances from the transaction log and admits
withdrawals against them.

Available balance is always computed as

	COMPLETE deposits - COMPLETE withdrawals - PROCESSING withdrawals

floored at zero, and never stored. PROCESSING withdrawals reserve funds so
two concurrent requests cannot both spend the same money before either
settles.

CreateWithdrawal is the only write path that creates withdrawal rows and it
runs its balance check inside a per-(user, wallet) lock. Status transitions
out of PROCESSING go through a conditional write instead: they target a
single row and need no cross-record exclusion.
*/
package ledger
