// Package delivery はメッセージ配信パイプラインの中核となる業務ロジックを提供する。
//
// パイプラインは2つのアクティビティで構成される。ストレージアクティビティは
// プロファイルのポリシー判定・本文の永続化・可視化フラグの遷移を行い、
// プランニングアクティビティは接触履歴の記録とチャネル別の通知可否判定・
// 通知レコードの作成を行う。
//
// 両アクティビティは外部のディスパッチャーからat-least-onceで呼び出される。
// そのため、すべての更新操作は冪等または単調であり、同一入力での再実行は
// 観測可能な状態を変えない。業務上の終局的な失敗は結果データとして返し、
// インフラ障害のみをエラーとして返すことで、呼び出し側はエラーの有無だけで
// リトライ要否を判断できる。
package delivery
