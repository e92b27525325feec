// Package dispatcher は配信ジョブのディスパッチャーを提供する。
//
// 受信箱サービスのジョブAPIを一定間隔でポーリングし、取得したジョブ
// ごとにストレージアクティビティとプランニングアクティビティを順に
// 呼び出す。アクティビティが500を返した場合（インフラ障害）はジョブを
// キューに残して次回のポーリングで再実行する（at-least-once）。200で
// 返った結果は終局的であり、ジョブの完了または失敗として報告する。
//
// ディスパッチャー自身は状態を持たない。ジョブの状態と試行回数は
// 受信箱サービスが管理する。
package dispatcher
